package colormap

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Named colours accepted in the configuration, a subset of the X11 palette.
var named = map[string]color.RGBA{
	"black":     {0, 0, 0, 255},
	"white":     {255, 255, 255, 255},
	"red":       {255, 0, 0, 255},
	"green":     {0, 128, 0, 255},
	"blue":      {0, 0, 255, 255},
	"yellow":    {255, 255, 0, 255},
	"cyan":      {0, 255, 255, 255},
	"magenta":   {255, 0, 255, 255},
	"orange":    {255, 165, 0, 255},
	"grey":      {128, 128, 128, 255},
	"gray":      {128, 128, 128, 255},
	"dimgrey":   {105, 105, 105, 255},
	"dimgray":   {105, 105, 105, 255},
	"lightgrey": {211, 211, 211, 255},
	"lightgray": {211, 211, 211, 255},
	"darkgrey":  {169, 169, 169, 255},
	"darkgray":  {169, 169, 169, 255},
	"navy":      {0, 0, 128, 255},
	"brown":     {165, 42, 42, 255},
	"none":      {0, 0, 0, 0},
	// land and water fills
	"land":  {240, 240, 220, 255},
	"water": {151, 183, 225, 255},
	"ocean": {151, 183, 225, 255},
}

// Parse turns a colour name or a #rgb, #rrggbb, #rrggbbaa string into RGBA.
func Parse(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := named[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("unknown colour %q", s)
	}
	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %v", s, err)
	}
	return color.RGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// MustParse is Parse for compile-time constants.
func MustParse(s string) color.RGBA {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}
