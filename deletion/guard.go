package deletion

// Guard runs a cleanup closure exactly once when the scope that owns it exits, unless it was
// released first. Use it with defer:
//
//	guard := deletion.NewGuard(func() { device.DestroyBuffer(staging) })
//	defer guard.Run()
//	...
//	guard.Release() // ownership handed off, nothing to clean up
type Guard struct {
	fn func()
}

func NewGuard(fn func()) *Guard {
	return &Guard{fn: fn}
}

// Run invokes the cleanup if it has not run or been released
func (g *Guard) Run() {
	if g == nil || g.fn == nil {
		return
	}

	fn := g.fn
	g.fn = nil
	fn()
}

// Release cancels the cleanup
func (g *Guard) Release() {
	g.fn = nil
}

// Take moves the cleanup into a new Guard, leaving this one empty
func (g *Guard) Take() *Guard {
	taken := &Guard{fn: g.fn}
	g.fn = nil
	return taken
}

// Active reports whether the cleanup is still pending
func (g *Guard) Active() bool {
	return g != nil && g.fn != nil
}
