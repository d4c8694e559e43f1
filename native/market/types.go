package market

import (
	"fmt"
	"math/big"
	"strings"
)

// SaleState is the tagged sale status of an item. Exactly one state holds at a
// time, which keeps "listed for a fixed price" and "under auction" mutually
// exclusive by construction instead of by cross-checking two records.
type SaleState uint8

const (
	// SaleNone marks an item that is neither listed nor under auction.
	SaleNone SaleState = iota
	// SaleListed marks an item purchasable at its listing price.
	SaleListed
	// SaleAuctionActive marks an item with an auction that has not been
	// settled. The auction may already be past its deadline; it stays in
	// this state until someone calls EndAuction.
	SaleAuctionActive
	// SaleAuctionEnded marks an item whose auction has settled. The auction
	// record is immutable history from this point on.
	SaleAuctionEnded
)

// Valid reports whether the state value is within the supported range.
func (s SaleState) Valid() bool {
	switch s {
	case SaleNone, SaleListed, SaleAuctionActive, SaleAuctionEnded:
		return true
	default:
		return false
	}
}

// Item is a minted marketplace token. Ownership changes only through a
// successful purchase or auction settlement; items are never destroyed.
type Item struct {
	ID         uint64    `json:"id"`
	Owner      [20]byte  `json:"owner"`
	ContentRef string    `json:"contentRef"`
	Sale       SaleState `json:"sale"`
	MintedAt   int64     `json:"mintedAt"`
}

// Clone returns a copy of the item so callers can mutate it freely.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	return &clone
}

// Listing is the fixed-price sale record for an item. The price is set once at
// creation; ForSale flips to false exactly once, on a purchase or when an
// auction supersedes the listing.
type Listing struct {
	ItemID  uint64   `json:"itemId"`
	Price   *big.Int `json:"price"`
	ForSale bool     `json:"forSale"`
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Auction is the timed sale record for an item. HighestBid starts at the
// seller's start bid and only ever increases; a zero HighestBidder means no
// bid has been accepted yet.
type Auction struct {
	ItemID        uint64   `json:"itemId"`
	Seller        [20]byte `json:"seller"`
	StartBid      *big.Int `json:"startBid"`
	HighestBid    *big.Int `json:"highestBid"`
	HighestBidder [20]byte `json:"highestBidder"`
	EndTime       int64    `json:"endTime"`
	Ended         bool     `json:"ended"`
	CreatedAt     int64    `json:"createdAt"`
}

// Clone returns a deep copy of the auction record.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	if a.StartBid != nil {
		clone.StartBid = new(big.Int).Set(a.StartBid)
	} else {
		clone.StartBid = big.NewInt(0)
	}
	if a.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(a.HighestBid)
	} else {
		clone.HighestBid = big.NewInt(0)
	}
	return &clone
}

// HasBid reports whether any bid has been accepted for the auction.
func (a *Auction) HasBid() bool {
	return a != nil && a.HighestBidder != ([20]byte{})
}

// Active reports whether the auction can still accept bids at the supplied
// timestamp. An expired auction is no longer Active in this sense but remains
// unsettled until EndAuction runs.
func (a *Auction) Active(now int64) bool {
	return a != nil && !a.Ended && now < a.EndTime
}

// Totals is the engine's running fund accounting. Accepted counts every unit
// of currency the engine ever took in; Held covers open bids awaiting
// settlement; Withdrawn covers balances already paid out. Escrowed balances
// make up the remainder, so Accepted == Held + Withdrawn + sum(escrow) in
// every reachable state.
type Totals struct {
	Accepted  *big.Int `json:"accepted"`
	Held      *big.Int `json:"held"`
	Withdrawn *big.Int `json:"withdrawn"`
}

// Clone returns a deep copy of the totals with non-nil fields.
func (t *Totals) Clone() *Totals {
	clone := &Totals{Accepted: big.NewInt(0), Held: big.NewInt(0), Withdrawn: big.NewInt(0)}
	if t == nil {
		return clone
	}
	if t.Accepted != nil {
		clone.Accepted = new(big.Int).Set(t.Accepted)
	}
	if t.Held != nil {
		clone.Held = new(big.Int).Set(t.Held)
	}
	if t.Withdrawn != nil {
		clone.Withdrawn = new(big.Int).Set(t.Withdrawn)
	}
	return clone
}

// SanitizeItem validates and normalises an item record without mutating the
// original.
func SanitizeItem(i *Item) (*Item, error) {
	if i == nil {
		return nil, fmt.Errorf("nil item")
	}
	clone := i.Clone()
	clone.ContentRef = strings.TrimSpace(clone.ContentRef)
	if clone.ContentRef == "" {
		return nil, fmt.Errorf("item content ref required")
	}
	if clone.Owner == ([20]byte{}) {
		return nil, fmt.Errorf("item owner required")
	}
	if !clone.Sale.Valid() {
		return nil, fmt.Errorf("invalid sale state: %d", clone.Sale)
	}
	return clone, nil
}

// SanitizeListing validates and normalises a listing record without mutating
// the original.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listing")
	}
	clone := l.Clone()
	if clone.Price.Sign() < 0 {
		return nil, fmt.Errorf("listing price must be non-negative")
	}
	return clone, nil
}

// SanitizeAuction validates and normalises an auction record without mutating
// the original.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("nil auction")
	}
	clone := a.Clone()
	if clone.StartBid.Sign() < 0 {
		return nil, fmt.Errorf("auction start bid must be non-negative")
	}
	if clone.HighestBid.Cmp(clone.StartBid) < 0 {
		return nil, fmt.Errorf("auction highest bid below start bid")
	}
	if clone.EndTime <= 0 {
		return nil, fmt.Errorf("auction end time required")
	}
	return clone, nil
}
