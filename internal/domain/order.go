package domain

// Leg identifies which market of a symbol an order targets.
type Leg string

const (
	LegSpot Leg = "spot"
	LegPerp Leg = "perp"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// TimeInForce is the venue order lifetime policy. Only immediate-or-cancel
// is used for hedged entries and exits.
type TimeInForce string

const (
	TimeInForceIOC TimeInForce = "Ioc"
)

// OrderRequest is a single-leg order handed to a venue.
type OrderRequest struct {
	// ClientOrderID is stable across retries of the same logical order.
	ClientOrderID string
	Symbol        string
	Leg           Leg
	Side          OrderSide
	Size          float64
	LimitPrice    float64
	TimeInForce   TimeInForce
	ReduceOnly    bool
}

// Notional is size times limit price.
func (r OrderRequest) Notional() float64 {
	return r.Size * r.LimitPrice
}

// Fill is what a venue reports back for an order. A zero FilledSize is the
// sentinel for "nothing happened on this leg".
type Fill struct {
	ClientOrderID string
	VenueOrderID  string
	Symbol        string
	Leg           Leg
	Side          OrderSide
	FilledSize    float64
	AvgPrice      float64
	Fee           float64
}

// Filled reports whether any quantity executed.
func (f Fill) Filled() bool {
	return f.FilledSize > 0
}

// ZeroFill returns the empty fill for req.
func ZeroFill(req OrderRequest) Fill {
	return Fill{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Leg:           req.Leg,
		Side:          req.Side,
	}
}
