// wrpclient lists the cameras of a WRP server and grabs frames from one of
// them, printing a temperature summary per frame.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	arg "github.com/alexflint/go-arg"

	"github.com/ImprolabFIT/wrpserver/wire"
	"github.com/ImprolabFIT/wrpserver/wrpclient"
)

var version = "<not set>"

type Args struct {
	Addr    string        `arg:"-a,--addr" default:"127.0.0.1:11001" help:"server address"`
	Serial  string        `arg:"-s,--serial" help:"camera to open; the first listed camera when empty"`
	Frames  int           `arg:"-n,--frames" default:"1" help:"frames to grab; more than one streams them"`
	Ack     bool          `arg:"--ack" help:"acknowledge every streamed frame"`
	List    bool          `arg:"-l,--list" help:"only list the cameras"`
	Timeout time.Duration `arg:"-t,--timeout" default:"5s" help:"per-request timeout"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	arg.MustParse(&args)
	return args
}

func main() {
	if err := runMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMain() error {
	args := procArgs()

	client := wrpclient.New(wrpclient.DefaultConfig(args.Addr))
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	ctx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), args.Timeout)
	}

	c, cancel := ctx()
	cams, err := client.GetCameraList(c)
	cancel()
	if err != nil {
		return err
	}

	for _, cam := range cams {
		fmt.Printf("%s\t%s %s\t%dx%d@%gfps\n", cam.SerialNumber, cam.VendorName, cam.ModelName, cam.Width, cam.Height, cam.MaxFPS)
	}
	if args.List {
		return nil
	}

	serial := args.Serial
	if serial == "" {
		if len(cams) == 0 {
			return errors.New("server lists no cameras")
		}
		serial = cams[0].SerialNumber
	}

	c, cancel = ctx()
	err = client.OpenCamera(c, serial)
	cancel()
	if err != nil {
		return fmt.Errorf("open %s: %w", serial, err)
	}

	if args.Frames <= 1 {
		c, cancel = ctx()
		frame, err := client.GetFrame(c)
		cancel()
		if err != nil {
			return err
		}

		printFrame(frame)
	} else if err := stream(client, args); err != nil {
		return err
	}

	c, cancel = ctx()
	defer cancel()
	return client.CloseCamera(c)
}

func stream(client *wrpclient.Client, args Args) error {
	frames := make(chan wire.FrameData, args.Frames)
	client.OnFrame(func(ev wrpclient.FrameEvent) {
		select {
		case frames <- ev.Frame:
		default:
		}
		if args.Ack {
			_ = client.Ack(ev.Frame.ID)
		}
	})

	c, cancel := context.WithTimeout(context.Background(), args.Timeout)
	err := client.StartContinuousGrabbing(c)
	cancel()
	if err != nil {
		return err
	}

	for received := 0; received < args.Frames; received++ {
		select {
		case f := <-frames:
			printFrame(f)
		case <-time.After(args.Timeout):
			return fmt.Errorf("no frame after %d of %d", received, args.Frames)
		}
	}

	c, cancel = context.WithTimeout(context.Background(), args.Timeout)
	defer cancel()
	return client.StopContinuousGrabbing(c)
}

func printFrame(f wire.FrameData) {
	lo, hi, sum := float32(math.MaxFloat32), float32(-math.MaxFloat32), 0.0
	for _, v := range f.Temperatures {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += float64(v)
	}

	if len(f.Temperatures) == 0 {
		fmt.Printf("frame %d: %dx%d empty\n", f.ID, f.Width, f.Height)
		return
	}

	ts := time.Unix(0, int64(f.Timestamp)).UTC().Format(time.RFC3339Nano)
	fmt.Printf("frame %d @ %s: %dx%d min %.2f max %.2f mean %.2f\n",
		f.ID, ts, f.Width, f.Height, lo, hi, sum/float64(len(f.Temperatures)))
}
