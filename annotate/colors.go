// Package annotate - Class colors and box/label drawing for annotated output images.
package annotate

import (
	"image/color"
	"sync"
)

// DarkPalette is the fixed set of label colors, chosen to stay readable under white text.
var DarkPalette = []color.RGBA{
	{R: 33, G: 33, B: 33, A: 255},  // dark gray
	{R: 139, G: 0, B: 0, A: 255},   // dark red
	{R: 0, G: 0, B: 139, A: 255},   // dark blue
	{R: 75, G: 0, B: 130, A: 255},  // dark violet
	{R: 139, G: 69, B: 19, A: 255}, // dark brown
	{R: 0, G: 128, B: 128, A: 255}, // dark teal
	{R: 128, G: 0, B: 0, A: 255},   // maroon
	{R: 0, G: 0, B: 128, A: 255},   // navy
	{R: 255, G: 69, B: 0, A: 255},  // dark orange
	{R: 128, G: 0, B: 128, A: 255}, // purple
}

// ColorAssigner hands out one stable color per class for the lifetime of a run.
//
// Two classes share a color only when their ids collide modulo the palette size.
type ColorAssigner struct {
	mu       sync.Mutex
	palette  []color.RGBA
	assigned map[int]color.RGBA
}

// NewColorAssigner creates an assigner over palette; an empty palette selects DarkPalette.
func NewColorAssigner(palette []color.RGBA) *ColorAssigner {
	if len(palette) == 0 {
		palette = DarkPalette
	}
	return &ColorAssigner{
		palette:  append([]color.RGBA(nil), palette...),
		assigned: make(map[int]color.RGBA),
	}
}

// ColorFor returns the color for classID, assigning palette[classID mod len(palette)] on first
// use.
func (c *ColorAssigner) ColorFor(classID int) color.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.assigned[classID]; ok {
		return col
	}

	n := len(c.palette)
	col := c.palette[((classID%n)+n)%n]
	c.assigned[classID] = col
	return col
}

// Reset forgets every assignment so the next run starts fresh.
func (c *ColorAssigner) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assigned = make(map[int]color.RGBA)
}

// Len returns the number of classes seen since the last Reset.
func (c *ColorAssigner) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.assigned)
}
