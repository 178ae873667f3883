package services

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultQRSize = 256
	MinQRSize     = 64
	MaxQRSize     = 1024
)

// QROptions describe a rendered QR code for a short URL. Colors are "#rrggbb".
type QROptions struct {
	Content string
	Size    int
	FgColor string
	BgColor string
}

type QRService struct{}

func NewQRService() *QRService {
	return &QRService{}
}

func (o QROptions) normalized() QROptions {
	switch {
	case o.Size <= 0:
		o.Size = DefaultQRSize
	case o.Size < MinQRSize:
		o.Size = MinQRSize
	case o.Size > MaxQRSize:
		o.Size = MaxQRSize
	}
	o.FgColor = hexOrDefault(o.FgColor, "#000000")
	o.BgColor = hexOrDefault(o.BgColor, "#ffffff")
	return o
}

// PNG renders the code as a square PNG of opts.Size pixels.
func (s *QRService) PNG(opts QROptions) ([]byte, error) {
	opts = opts.normalized()
	qr, err := qrcode.New(opts.Content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	qr.ForegroundColor = parseHexColor(opts.FgColor, color.Black)
	qr.BackgroundColor = parseHexColor(opts.BgColor, color.White)
	return qr.PNG(opts.Size)
}

// SVG renders the code with one path for all dark modules.
func (s *QRService) SVG(opts QROptions) (string, error) {
	opts = opts.normalized()
	qr, err := qrcode.New(opts.Content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}

	qr.DisableBorder = true
	bitmap := qr.Bitmap()
	modules := len(bitmap)

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		opts.Size, opts.Size, modules, modules)
	fmt.Fprintf(&sb, `<rect width="100%%" height="100%%" fill="%s"/>`, opts.BgColor)
	fmt.Fprintf(&sb, `<path fill="%s" d="`, opts.FgColor)
	for y := 0; y < modules; y++ {
		for x := 0; x < modules; x++ {
			if bitmap[y][x] {
				fmt.Fprintf(&sb, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	sb.WriteString(`"/></svg>`)
	return sb.String(), nil
}

func isHexColor(s string) bool {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func hexOrDefault(s, def string) string {
	if !isHexColor(s) {
		return def
	}
	return "#" + strings.ToLower(strings.TrimPrefix(s, "#"))
}

func parseHexColor(s string, defaultColor color.Color) color.Color {
	if !isHexColor(s) {
		return defaultColor
	}
	s = strings.TrimPrefix(s, "#")

	hexToByte := func(c byte) byte {
		switch {
		case c >= '0' && c <= '9':
			return c - '0'
		case c >= 'a' && c <= 'f':
			return c - 'a' + 10
		default:
			return c - 'A' + 10
		}
	}

	r := (hexToByte(s[0]) << 4) + hexToByte(s[1])
	g := (hexToByte(s[2]) << 4) + hexToByte(s[3])
	b := (hexToByte(s[4]) << 4) + hexToByte(s[5])
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
