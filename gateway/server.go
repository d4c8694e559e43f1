package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moovemarket/core/events"
	"moovemarket/metadata"
	"moovemarket/native/market"
)

const metadataFetchTimeout = 5 * time.Second

// Fetcher resolves an item's content ref to its off-chain document.
type Fetcher interface {
	Fetch(ctx context.Context, contentRef string) (*metadata.Document, error)
}

// Server is the read-only REST surface consumed by the frontend. It never
// mutates engine state; all writes go through the RPC server.
type Server struct {
	engine   *market.Engine
	fetcher  Fetcher
	recorder *events.Recorder
	logger   *slog.Logger
}

// NewServer constructs a gateway. The fetcher and recorder are optional; item
// detail responses simply omit metadata and the activity feed stays empty.
func NewServer(engine *market.Engine, fetcher Fetcher, recorder *events.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, fetcher: fetcher, recorder: recorder, logger: logger}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/items", s.handleListItems)
		r.Get("/items/{id}", s.handleGetItem)
		r.Get("/auctions", s.handleListAuctions)
		r.Get("/auctions/{id}", s.handleGetAuction)
		r.Get("/activity", s.handleActivity)
	})
	return r
}

// Start serves the gateway on the supplied address and blocks.
func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Router())
}

type itemSummary struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	ContentRef string `json:"contentRef"`
	ForSale    bool   `json:"forSale"`
	Price      string `json:"price,omitempty"`
	AuctionOn  bool   `json:"auctionActive"`
}

type itemDetail struct {
	itemSummary
	Metadata *metadata.Document `json:"metadata,omitempty"`
}

type auctionView struct {
	ItemID        uint64  `json:"itemId"`
	Seller        string  `json:"seller"`
	StartBid      string  `json:"startBid"`
	HighestBid    string  `json:"highestBid"`
	HighestBidder *string `json:"highestBidder,omitempty"`
	EndTime       int64   `json:"endTime"`
	Ended         bool    `json:"ended"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatAddress(addr [20]byte) string {
	return ethcommon.BytesToAddress(addr[:]).Hex()
}

func parseItemID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) itemSummary(id uint64) (*itemSummary, error) {
	item, err := s.engine.GetItem(id)
	if err != nil {
		return nil, err
	}
	summary := &itemSummary{
		ID:         item.ID,
		Owner:      formatAddress(item.Owner),
		ContentRef: item.ContentRef,
		ForSale:    item.Sale == market.SaleListed,
		AuctionOn:  item.Sale == market.SaleAuctionActive,
	}
	if listing, err := s.engine.GetListing(id); err == nil {
		summary.Price = listing.Price.String()
	}
	return summary, nil
}

func (s *Server) handleListItems(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.engine.ItemIDs()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list items"})
		return
	}
	items := make([]itemSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := s.itemSummary(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load item"})
			return
		}
		items = append(items, *summary)
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid item id"})
		return
	}
	summary, err := s.itemSummary(id)
	if err != nil {
		if errors.Is(err, market.ErrItemNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "item not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load item"})
		return
	}
	detail := itemDetail{itemSummary: *summary}
	if s.fetcher != nil {
		ctx, cancel := context.WithTimeout(r.Context(), metadataFetchTimeout)
		defer cancel()
		doc, err := s.fetcher.Fetch(ctx, summary.ContentRef)
		if err != nil {
			// Metadata is presentation-only; serve the on-chain record.
			s.logger.Warn("metadata fetch failed",
				slog.Uint64("itemId", id),
				slog.Any("error", err))
		} else {
			detail.Metadata = doc
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) auctionView(id uint64) (*auctionView, error) {
	auction, err := s.engine.GetAuction(id)
	if err != nil {
		return nil, err
	}
	view := &auctionView{
		ItemID:     auction.ItemID,
		Seller:     formatAddress(auction.Seller),
		StartBid:   auction.StartBid.String(),
		HighestBid: auction.HighestBid.String(),
		EndTime:    auction.EndTime,
		Ended:      auction.Ended,
	}
	if auction.HasBid() {
		bidder := formatAddress(auction.HighestBidder)
		view.HighestBidder = &bidder
	}
	return view, nil
}

func (s *Server) handleListAuctions(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.engine.ActiveAuctionIDs()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list auctions"})
		return
	}
	auctions := make([]auctionView, 0, len(ids))
	for _, id := range ids {
		view, err := s.auctionView(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load auction"})
			return
		}
		auctions = append(auctions, *view)
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid item id"})
		return
	}
	view, err := s.auctionView(id)
	if err != nil {
		if errors.Is(err, market.ErrItemNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "auction not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load auction"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}
	if s.recorder == nil {
		writeJSON(w, http.StatusOK, []events.Recorded{})
		return
	}
	writeJSON(w, http.StatusOK, s.recorder.Recent(limit))
}
