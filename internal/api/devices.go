package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framegrab/internal/api/models"
	"github.com/smazurov/framegrab/pkg/linuxav/v4l2"
)

// DeviceCatalog enumerates capture devices and their formats.
type DeviceCatalog interface {
	Devices() ([]v4l2.DeviceInfo, error)
	Formats(devicePath string) ([]models.FormatInfo, error)
}

// v4l2Catalog reads the devices of this machine.
type v4l2Catalog struct{}

func (v4l2Catalog) Devices() ([]v4l2.DeviceInfo, error) {
	return v4l2.FindDevices()
}

func (v4l2Catalog) Formats(devicePath string) ([]models.FormatInfo, error) {
	dev, err := v4l2.Open(devicePath)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	formats, err := dev.Formats()
	if err != nil {
		return nil, err
	}

	out := make([]models.FormatInfo, 0, len(formats))
	for _, f := range formats {
		info := models.FormatInfo{
			FourCC:      v4l2.FormatFourCC(f.PixelFormat),
			PixelFormat: f.PixelFormat,
			Name:        f.FormatName,
			Emulated:    f.Emulated,
		}
		resolutions, err := dev.Resolutions(f.PixelFormat)
		if err != nil {
			return nil, err
		}
		for _, r := range resolutions {
			res := models.ResolutionInfo{Width: r.Width, Height: r.Height}
			// Interval enumeration is optional for drivers
			if rates, err := dev.Framerates(f.PixelFormat, r.Width, r.Height); err == nil {
				for _, rate := range rates {
					res.FPS = append(res.FPS, rate.FPS())
				}
			}
			info.Resolutions = append(info.Resolutions, res)
		}
		out = append(out, info)
	}
	return out, nil
}

var capabilityNames = []struct {
	flag uint32
	name string
}{
	{0x00000001, "Video Capture"},
	{0x00000002, "Video Output"},
	{0x00000004, "Video Overlay"},
	{0x00001000, "Video Capture Multiplanar"},
	{0x00008000, "Video M2M"},
	{0x00010000, "Tuner"},
	{0x00020000, "Audio"},
	{0x00800000, "Metadata Capture"},
	{0x01000000, "Read/Write"},
	{0x04000000, "Streaming"},
	{0x20000000, "I/O Media Controller"},
}

// translateCapabilities names the set capability bits.
func translateCapabilities(caps uint32) []string {
	names := []string{}
	for _, c := range capabilityNames {
		if caps&c.flag != 0 {
			names = append(names, c.name)
		}
	}
	return names
}

type DeviceFormatsInput struct {
	Device string `query:"device" required:"true" example:"/dev/video0" doc:"Device node to query"`
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List V4L2 nodes that can capture video",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.DevicesResponse, error) {
		found, err := s.devices.Devices()
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to enumerate devices", err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].DevicePath < found[j].DevicePath })

		list := make([]models.DeviceInfo, 0, len(found))
		for _, d := range found {
			list = append(list, models.DeviceInfo{
				DevicePath:   d.DevicePath,
				DeviceName:   d.DeviceName,
				DeviceID:     d.DeviceID,
				Capabilities: translateCapabilities(d.Caps),
			})
		}
		return &models.DevicesResponse{
			Body: models.DeviceData{Devices: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device-formats",
		Method:      http.MethodGet,
		Path:        "/api/devices/formats",
		Summary:     "Device Formats",
		Description: "Pixel formats, frame sizes and frame rates offered by one device",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(_ context.Context, input *DeviceFormatsInput) (*models.DeviceFormatsResponse, error) {
		formats, err := s.devices.Formats(input.Device)
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, huma.Error404NotFound("device not found: " + input.Device)
		case errors.Is(err, v4l2.ErrNotCharDevice):
			return nil, huma.Error400BadRequest(input.Device + " is not a video device")
		case err != nil:
			return nil, huma.Error500InternalServerError("failed to enumerate formats", err)
		}
		return &models.DeviceFormatsResponse{
			Body: models.DeviceFormatsData{DevicePath: input.Device, Formats: formats},
		}, nil
	})
}
