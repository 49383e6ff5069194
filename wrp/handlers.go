package wrp

import (
	"errors"
	"fmt"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/notify"
	"github.com/ImprolabFIT/wrpserver/wire"
)

func (s *Session) handleGetCameraList() (State, error) {
	if err := s.expectLength(0); err != nil {
		return s.state, err
	}

	ctx, cancel := s.requestCtx()
	defer cancel()

	doc, err := s.env.directory.ListXML(ctx)
	if err != nil {
		return s.state, fmt.Errorf("wrp: camera listing failed: %w", err)
	}

	if err := wire.EncodeASCII(s.buf, wire.CameraList, doc); err != nil {
		return s.state, err
	}

	return Connected, s.reply()
}

func (s *Session) handleOpenCamera() (State, error) {
	n := s.header.Length
	if n == 0 || n > wire.MaxSerialLength {
		return s.state, fmt.Errorf("%w: serial length %d", ErrProtocolViolation, n)
	}

	if err := s.payloadDeadline(); err != nil {
		return s.state, err
	}

	serial, err := s.reader.ReadASCII(int(n))
	if err != nil {
		return s.state, err
	}

	log := s.log.With(logger.Field{Key: "serial", Value: serial})

	cam, ok := s.env.directory.FindBySerial(serial)
	if !ok {
		log.Warn("camera not found")
		return Connected, s.replyError(wire.CameraNotFound)
	}

	s.camera = camera.NewAdapter(cam, s.log)

	ctx, cancel := s.requestCtx()
	defer cancel()

	if err := s.camera.Connect(ctx, s.env.opts.RequestTimeout); err != nil {
		log.Warn("camera connect failed", logger.Field{Key: "error", Value: err.Error()})
		s.unbind()
		return Connected, s.replyError(wire.CameraNotResponding)
	}

	log.Info("camera opened")
	s.publish(notify.Event{Kind: notify.CameraOpened})
	return CameraSelected, s.replyEmpty(wire.OK)
}

func (s *Session) handleCloseCamera() (State, error) {
	if err := s.expectLength(0); err != nil {
		return s.state, err
	}

	if s.camera == nil {
		return Connected, s.replyError(wire.CameraNotOpen)
	}

	ctx, cancel := s.requestCtx()
	defer cancel()

	if err := s.camera.Disconnect(ctx, s.env.opts.RequestTimeout); err != nil {
		s.log.Warn("camera disconnect failed", logger.Field{Key: "error", Value: err.Error()})
	}

	s.log.Info("camera closed", logger.Field{Key: "serial", Value: s.serial()})
	s.publish(notify.Event{Kind: notify.CameraClosed})
	s.unbind()

	return Connected, s.replyEmpty(wire.OK)
}

func (s *Session) handleGetFrame() (State, error) {
	if err := s.expectLength(0); err != nil {
		return s.state, err
	}

	if s.camera == nil {
		return Connected, s.replyError(wire.CameraNotOpen)
	}

	opts := s.env.opts

	ctx, cancel := s.requestCtx()
	err := s.camera.StartAcquisition(ctx, opts.RequestTimeout)
	cancel()
	if err != nil {
		s.log.Warn("start acquisition failed", logger.Field{Key: "error", Value: err.Error()})
		s.stopAcquisition()
		return CameraSelected, s.replyError(wire.CameraNotAcquiring)
	}

	frame, grabErr := s.camera.NextFrame(s.ctx, opts.FrameTimeout)
	stopErr := s.stopAcquisition()

	switch {
	case grabErr != nil:
		s.log.Warn("frame grab failed", logger.Field{Key: "error", Value: grabErr.Error()})
		return CameraSelected, s.replyError(wire.CameraNotResponding)
	case stopErr != nil:
		return CameraSelected, s.replyError(wire.CameraNotResponding)
	}

	if err := wire.EncodeFrame(s.buf, frameData(0, frame)); err != nil {
		return s.state, err
	}

	return CameraSelected, s.reply()
}

// stopAcquisition stops acquisition within the request timeout and logs a
// failure.
func (s *Session) stopAcquisition() error {
	ctx, cancel := s.requestCtx()
	defer cancel()

	err := s.camera.StopAcquisition(ctx, s.env.opts.RequestTimeout)
	if err != nil {
		s.log.Warn("stop acquisition failed", logger.Field{Key: "error", Value: err.Error()})
	}

	return err
}

func (s *Session) handleStartGrabbing() (State, error) {
	if err := s.expectLength(0); err != nil {
		return s.state, err
	}

	if s.camera == nil {
		return Connected, s.replyError(wire.CameraNotOpen)
	}

	ctx, cancel := s.requestCtx()
	err := s.camera.StartAcquisition(ctx, s.env.opts.RequestTimeout)
	cancel()
	if err != nil {
		s.log.Warn("start acquisition failed", logger.Field{Key: "error", Value: err.Error()})
		s.stopAcquisition()
		return CameraSelected, s.replyError(wire.CameraNotAcquiring)
	}

	serial := s.serial()
	log := s.log.With(logger.Field{Key: "serial", Value: serial})
	s.worker = newGrabWorker(log, s.camera, s.out, s.env.opts, func(st streamStats) {
		if st.stopped {
			return
		}

		s.env.streams.Remove(s.id)
		s.publish(notify.Event{Kind: notify.StreamEnded, Serial: serial, Reason: st.reason, Frames: st.sent, Dropped: st.dropped})
	})

	// OK must precede the first FRAME
	if err := s.replyEmpty(wire.OK); err != nil {
		s.worker.halt()
		s.worker = nil
		s.stopAcquisition()
		return s.state, err
	}

	s.worker.start()
	s.env.streams.Add(s.id)
	log.Info("stream started", logger.Field{Key: "ack_window", Value: s.env.opts.AckWindow})
	s.publish(notify.Event{Kind: notify.StreamStarted})

	return ContinuousGrabbing, nil
}

func (s *Session) handleStopGrabbing() (State, error) {
	if err := s.expectLength(0); err != nil {
		return s.state, err
	}

	if s.camera == nil {
		return Connected, s.replyError(wire.CameraNotOpen)
	}

	var sent, dropped uint64
	if s.worker != nil {
		s.worker.stop()
		sent, dropped = s.worker.sent.Load(), s.worker.dropped.Load()
		s.worker = nil
		s.env.streams.Remove(s.id)
	}

	if err := s.stopAcquisition(); err != nil {
		return ContinuousGrabbing, s.replyError(wire.CameraNotResponding)
	}

	s.publish(notify.Event{Kind: notify.StreamStopped, Frames: sent, Dropped: dropped})
	return CameraSelected, s.replyEmpty(wire.OK)
}

// handleAck consumes ACK_CONTINUOUS_GRABBING in place.
func (s *Session) handleAck() error {
	if err := s.expectLength(wire.AckPayloadLen); err != nil {
		return err
	}

	if err := s.payloadDeadline(); err != nil {
		return err
	}

	id, err := s.reader.ReadUint32()
	if err != nil {
		return err
	}

	if s.worker == nil {
		s.log.Debug("ack after stream ended", logger.Field{Key: "frame_id", Value: id})
		return nil
	}

	if err := s.worker.ack(id); err != nil {
		if errors.Is(err, ErrAckOutOfRange) {
			s.log.Warn("ack ignored", logger.Field{Key: "error", Value: err.Error()})
			return nil
		}

		return err
	}

	return nil
}
