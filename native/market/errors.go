package market

import "errors"

// Rejection taxonomy for marketplace transitions. Every failure is a typed,
// non-retryable rejection of a single operation; the engine never retries on
// behalf of the caller.
var (
	ErrItemNotFound         = errors.New("market: item not found")
	ErrUnauthorized         = errors.New("market: caller is not the owner")
	ErrNotForSale           = errors.New("market: item not for sale")
	ErrInsufficientPayment  = errors.New("market: payment must match the listed price")
	ErrAuctionAlreadyActive = errors.New("market: auction already exists for item")
	ErrInvalidDuration      = errors.New("market: auction duration must be positive")
	ErrAuctionNotActive     = errors.New("market: no active auction for item")
	ErrAuctionExpired       = errors.New("market: auction deadline passed")
	ErrAuctionNotExpired    = errors.New("market: auction deadline not reached")
	ErrAlreadyEnded         = errors.New("market: auction already ended")
	ErrBidTooLow            = errors.New("market: bid must exceed the highest bid")
	ErrNothingToWithdraw    = errors.New("market: no withdrawable balance")
)
