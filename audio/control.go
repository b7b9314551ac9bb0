package audio

// GateSet is a bit set of gate line states, one bit per gate port.
type GateSet uint32

// Get returns the state of gate line i.
func (g GateSet) Get(i int) bool {
	return g&(1<<uint(i)) != 0
}

// Set returns the gate set with line i set to v.
func (g GateSet) Set(i int, v bool) GateSet {
	if v {
		return g | 1<<uint(i)
	}
	return g &^ (1 << uint(i))
}

// Changed returns a set with a bit for every line that differs from prev.
func (g GateSet) Changed(prev GateSet) GateSet {
	return g ^ prev
}

// ControlBuffer carries the control voltage and gate data that accompanies
// one audio chunk: one float per CV port and one bit per gate port.
type ControlBuffer struct {
	CV    [MaxCVPorts]float64
	Gates GateSet
}

// Clear resets all CV values and gate bits.
func (c *ControlBuffer) Clear() {
	for i := range c.CV {
		c.CV[i] = 0
	}
	c.Gates = 0
}
