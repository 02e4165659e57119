package comm

// Typed blocking helpers used during build distribution and probe gather.
// They execute once, outside the stepped loop, and are synchronous by
// design: there is nothing to overlap with.

// SendString transmits s to (dst, tag).
func SendString(c Communicator, s string, dst, tag int) error {
	return c.Send(s, dst, tag)
}

// RecvString blocks for a string from (src, tag).
func RecvString(c Communicator, src, tag int) (string, error) {
	var s string
	err := c.Recv(&s, src, tag)
	return s, err
}

// SendInt transmits i to (dst, tag).
func SendInt(c Communicator, i int, dst, tag int) error {
	return c.Send(i, dst, tag)
}

// RecvInt blocks for an int from (src, tag).
func RecvInt(c Communicator, src, tag int) (int, error) {
	var i int
	err := c.Recv(&i, src, tag)
	return i, err
}

// SendFloat64 transmits f to (dst, tag).
func SendFloat64(c Communicator, f float64, dst, tag int) error {
	return c.Send(f, dst, tag)
}

// RecvFloat64 blocks for a float64 from (src, tag).
func RecvFloat64(c Communicator, src, tag int) (float64, error) {
	var f float64
	err := c.Recv(&f, src, tag)
	return f, err
}

// SendKey transmits a buffer key to (dst, tag).
func SendKey(c Communicator, k uint64, dst, tag int) error {
	return c.Send(k, dst, tag)
}

// RecvKey blocks for a buffer key from (src, tag).
func RecvKey(c Communicator, src, tag int) (uint64, error) {
	var k uint64
	err := c.Recv(&k, src, tag)
	return k, err
}

// SendFloats transmits a float vector to (dst, tag), blocking.
func SendFloats(c Communicator, data []float64, dst, tag int) error {
	return c.Send(data, dst, tag)
}

// RecvFloats blocks for a float vector from (src, tag).
func RecvFloats(c Communicator, src, tag int) ([]float64, error) {
	var data []float64
	err := c.Recv(&data, src, tag)
	return data, err
}
