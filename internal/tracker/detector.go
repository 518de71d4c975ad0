package tracker

// TransitionKind tags the decision made for one tracked product.
type TransitionKind string

// Transition kinds, in the order they are ruled out.
const (
	// TransitionSoldOut: notify, then delete the product and its history.
	TransitionSoldOut TransitionKind = "sold_out"
	// TransitionExtractionFailed: transient; skip and retry next cycle.
	TransitionExtractionFailed TransitionKind = "extraction_failed"
	// TransitionFirstObservation: append the first price point, no notification.
	TransitionFirstObservation TransitionKind = "first_observation"
	// TransitionUnchanged: no mutation.
	TransitionUnchanged TransitionKind = "unchanged"
	// TransitionPriceChanged: append a price point; notify only on a drop.
	TransitionPriceChanged TransitionKind = "price_changed"
)

// Transition is the decision for one product check. OldPrice is meaningful
// for Unchanged and PriceChanged; NewPrice for every kind that records or
// compares a price.
type Transition struct {
	Kind     TransitionKind
	NewPrice int
	OldPrice int
	// Drop is set on a PriceChanged transition whose new price is lower.
	// Increases update history silently.
	Drop bool
}

// Evaluate decides the transition for a tracked product given the latest
// extraction outcome and the last known price (nil when no price point
// exists yet).
//
// The sold-out flag wins over everything else, including extraction
// failure: the flag is detected independently of name and price, and a
// sold-out listing has nothing left to observe. Price comparison is exact
// integer equality.
func Evaluate(listing Listing, extractErr error, lastKnown *int) Transition {
	if listing.SoldOut {
		return Transition{Kind: TransitionSoldOut}
	}
	if extractErr != nil {
		return Transition{Kind: TransitionExtractionFailed}
	}
	price := *listing.Price
	if lastKnown == nil {
		return Transition{Kind: TransitionFirstObservation, NewPrice: price}
	}
	if price == *lastKnown {
		return Transition{Kind: TransitionUnchanged, NewPrice: price, OldPrice: *lastKnown}
	}
	return Transition{
		Kind:     TransitionPriceChanged,
		NewPrice: price,
		OldPrice: *lastKnown,
		Drop:     price < *lastKnown,
	}
}
