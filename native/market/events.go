package market

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"moovemarket/core/types"
)

const (
	EventTypeMinted         = "market.minted"
	EventTypeBought         = "market.bought"
	EventTypeAuctionCreated = "market.auction_created"
	EventTypeBidPlaced      = "market.bid_placed"
	EventTypeAuctionEnded   = "market.auction_ended"
)

// NewMintedEvent returns the canonical event payload for a freshly minted
// item.
func NewMintedEvent(i *Item) *types.Event {
	attrs := make(map[string]string)
	if i == nil {
		return &types.Event{Type: EventTypeMinted, Attributes: attrs}
	}
	attrs["itemId"] = strconv.FormatUint(i.ID, 10)
	attrs["owner"] = hex.EncodeToString(i.Owner[:])
	attrs["contentRef"] = i.ContentRef
	return &types.Event{Type: EventTypeMinted, Attributes: attrs}
}

// NewBoughtEvent returns the canonical event payload for a completed
// fixed-price purchase.
func NewBoughtEvent(itemID uint64, buyer [20]byte, price *big.Int) *types.Event {
	attrs := map[string]string{
		"itemId": strconv.FormatUint(itemID, 10),
		"buyer":  hex.EncodeToString(buyer[:]),
		"price":  bigIntString(price),
	}
	return &types.Event{Type: EventTypeBought, Attributes: attrs}
}

// NewAuctionCreatedEvent returns the canonical event payload for a newly
// opened auction.
func NewAuctionCreatedEvent(a *Auction) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: EventTypeAuctionCreated, Attributes: attrs}
	}
	attrs["itemId"] = strconv.FormatUint(a.ItemID, 10)
	attrs["endTime"] = strconv.FormatInt(a.EndTime, 10)
	attrs["startBid"] = bigIntString(a.StartBid)
	return &types.Event{Type: EventTypeAuctionCreated, Attributes: attrs}
}

// NewBidPlacedEvent returns the canonical event payload for an accepted bid.
func NewBidPlacedEvent(itemID uint64, bidder [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"itemId": strconv.FormatUint(itemID, 10),
		"bidder": hex.EncodeToString(bidder[:]),
		"amount": bigIntString(amount),
	}
	return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
}

// NewAuctionEndedEvent returns the canonical event payload for a settled
// auction. The winner attribute is omitted when the auction closed without
// bids.
func NewAuctionEndedEvent(a *Auction) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: EventTypeAuctionEnded, Attributes: attrs}
	}
	attrs["itemId"] = strconv.FormatUint(a.ItemID, 10)
	if a.HasBid() {
		attrs["winner"] = hex.EncodeToString(a.HighestBidder[:])
		attrs["amount"] = bigIntString(a.HighestBid)
	} else {
		attrs["amount"] = "0"
	}
	return &types.Event{Type: EventTypeAuctionEnded, Attributes: attrs}
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
