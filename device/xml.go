package device

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ImprolabFIT/wrpserver/camera"
)

type xmlCameras struct {
	XMLName xml.Name    `xml:"Cameras"`
	Cameras []xmlCamera `xml:"Camera"`
}

type xmlCamera struct {
	Width            int    `xml:"Width,attr"`
	Height           int    `xml:"Height,attr"`
	CameraMaxFPS     string `xml:"CameraMaxFPS,attr"`
	Version          string `xml:"Version,attr"`
	ModelName        string `xml:"ModelName,attr"`
	ManufacturerInfo string `xml:"ManufacturerInfo,attr"`
	SerialNumber     string `xml:"SerialNumber,attr"`
	VendorName       string `xml:"VendorName,attr"`
}

// RenderXML renders infos as
//
//	<Cameras><Camera Width=".." Height=".." CameraMaxFPS=".." .../></Cameras>
//
// Characters outside ASCII are written as numeric character references so
// the result is always a valid CAMERA_LIST payload.
func RenderXML(infos []camera.Info) (string, error) {
	doc := xmlCameras{Cameras: make([]xmlCamera, 0, len(infos))}
	for _, info := range infos {
		doc.Cameras = append(doc.Cameras, xmlCamera{
			Width:            info.Width,
			Height:           info.Height,
			CameraMaxFPS:     strconv.FormatFloat(info.MaxFPS, 'f', -1, 64),
			Version:          info.Version,
			ModelName:        info.ModelName,
			ManufacturerInfo: info.ManufacturerInfo,
			SerialNumber:     info.SerialNumber,
			VendorName:       info.VendorName,
		})
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("device: render camera list: %w", err)
	}

	return escapeNonASCII(string(out)), nil
}

// ParseXML is the inverse of RenderXML, used by clients.
func ParseXML(doc string) ([]camera.Info, error) {
	var parsed xmlCameras
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("device: parse camera list: %w", err)
	}

	infos := make([]camera.Info, 0, len(parsed.Cameras))
	for _, c := range parsed.Cameras {
		fps, err := strconv.ParseFloat(c.CameraMaxFPS, 64)
		if err != nil && c.CameraMaxFPS != "" {
			return nil, fmt.Errorf("device: camera %q: bad CameraMaxFPS %q", c.SerialNumber, c.CameraMaxFPS)
		}

		infos = append(infos, camera.Info{
			SerialNumber:     c.SerialNumber,
			ModelName:        c.ModelName,
			VendorName:       c.VendorName,
			ManufacturerInfo: c.ManufacturerInfo,
			Version:          c.Version,
			Width:            c.Width,
			Height:           c.Height,
			MaxFPS:           fps,
		})
	}

	return infos, nil
}

func escapeNonASCII(s string) string {
	if isASCII(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}

		fmt.Fprintf(&b, "&#%d;", r)
	}

	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}

	return true
}
