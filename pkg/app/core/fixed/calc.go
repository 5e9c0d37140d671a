package fixed

// Calc chains arithmetic and keeps the first error, so a formula reads as a
// formula. Once an error is recorded every later call returns Zero.
type Calc struct {
	err error
}

// Err returns the first failure, if any
func (c *Calc) Err() error { return c.err }

// arithmetic, same semantics as the Decimal methods
func (c *Calc) Add(a, b Decimal) Decimal { return c.do(a.Add, b) }
func (c *Calc) Sub(a, b Decimal) Decimal { return c.do(a.Sub, b) }
func (c *Calc) Mul(a, b Decimal) Decimal { return c.do(a.Mul, b) }
func (c *Calc) Div(a, b Decimal) Decimal { return c.do(a.Div, b) }

func (c *Calc) Rescale(a Decimal, scale uint32) Decimal {
	if c.err != nil {
		return Zero
	}
	r, err := a.Rescale(scale)
	if err != nil {
		c.err = err
	}
	return r
}

// Uint64 extracts native units, recording negative or oversized values
func (c *Calc) Uint64(a Decimal) uint64 {
	if c.err != nil {
		return 0
	}
	v, err := a.Uint64()
	if err != nil {
		c.err = err
	}
	return v
}

// Int64 extracts a signed integer part, recording oversized values
func (c *Calc) Int64(a Decimal) int64 {
	if c.err != nil {
		return 0
	}
	v, err := a.Int64()
	if err != nil {
		c.err = err
	}
	return v
}

func (c *Calc) do(op func(Decimal) (Decimal, error), b Decimal) Decimal {
	if c.err != nil {
		return Zero
	}
	r, err := op(b)
	if err != nil {
		c.err = err
	}
	return r
}

// Check records err and passes d through, for folding a fallible call
// into a formula
func (c *Calc) Check(d Decimal, err error) Decimal {
	if c.err != nil {
		return Zero
	}
	if err != nil {
		c.err = err
		return Zero
	}
	return d
}
