package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/uenogami/stock-trading-game/internal/model"
	"github.com/uenogami/stock-trading-game/internal/pricing"
	"github.com/uenogami/stock-trading-game/internal/ranking"
)

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for POST /players.
type CreateAccountRequest struct {
	Name string `json:"name"`
	PIN  string `json:"pin"`
}

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	PlayerID string `json:"player_id"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`     // "buy" or "sell"
	Quantity int64  `json:"quantity"` // whole shares, positive
}

// TradeResponse is returned from POST /trades. During a price blackout
// the fresh quote is masked; the trader still sees their own fill price
// on the trade record.
type TradeResponse struct {
	Trade  *model.Trade `json:"trade"`
	Price  int64        `json:"price"`
	Volume int64        `json:"volume"`
	Hidden bool         `json:"hidden,omitempty"`
}

// PostRequest is the JSON body for POST /timeline.
type PostRequest struct {
	PlayerID string `json:"player_id"`
	Category string `json:"category"` // defaults to "tweet"
	Body     string `json:"body"`
}

// CardRequest is the JSON body for POST /cards.
type CardRequest struct {
	PlayerID string `json:"player_id"`
	CardID   string `json:"card_id"`
	Action   string `json:"action"` // "buy", "activate", or "deactivate"
}

// InsuranceRequest is the JSON body for POST /insurance.
type InsuranceRequest struct {
	PlayerID string `json:"player_id"`
}

// SymbolView is the quote snapshot served to clients. While a price
// blackout is live the price fields are zeroed and Hidden is set.
type SymbolView struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Price       int64           `json:"price"`
	ChangeRate  string          `json:"change_rate"`
	Volume      int64           `json:"volume"`
	MaxHoldings int64           `json:"max_holdings"`
	Hidden      bool            `json:"hidden"`
	Series      []pricing.Point `json:"series,omitempty"`
}

// SessionView is the clock snapshot served to clients so they can run
// the countdown locally between polls.
type SessionView struct {
	SessionStart   *time.Time `json:"session_start,omitempty"`
	HasTrades      bool       `json:"has_trades"`
	ServerNow      time.Time  `json:"server_now"`
	Phase          string     `json:"phase"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	DurationSecs   int64      `json:"duration_seconds"`
}

// --- HTTP Handlers ---

// HandleCreateAccount handles POST /api/v1/players.
func (s *Service) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	player, err := s.CreateAccount(r.Context(), req.Name, req.PIN)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

// HandleGetPlayer handles GET /api/v1/players/{playerID}.
func (s *Service) HandleGetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.store.GetPlayer(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// HandleTrade handles POST /api/v1/trades.
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	trade, sym, err := s.ExecuteTrade(r.Context(), req.PlayerID, req.Symbol, req.Side, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := TradeResponse{
		Trade:  trade,
		Price:  sym.Price,
		Volume: sym.Volume,
	}
	hidden, err := s.cards.PricesHidden(r.Context(), time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if hidden {
		resp.Price = 0
		resp.Hidden = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListSymbols handles GET /api/v1/symbols.
func (s *Service) HandleListSymbols(w http.ResponseWriter, r *http.Request) {
	views, err := s.symbolViews(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleGetSymbol handles GET /api/v1/symbols/{symbol}. Includes the
// minute-by-minute price series for charting.
func (s *Service) HandleGetSymbol(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "symbol")
	ctx := r.Context()

	sym, err := s.store.GetSymbol(ctx, code)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	hidden, err := s.cards.PricesHidden(ctx, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	view := symbolView(sym, hidden)
	if !hidden {
		if err := s.clock.SyncFromStore(ctx, s.store); err != nil {
			writeDomainError(w, err)
			return
		}
		trades, err := s.store.ListTradesBySymbol(ctx, code)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		view.Series = pricing.Series(sym.BasePrice, sym.Coefficient, trades, s.clock.SessionStart(), s.cfg.SessionDuration)
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleSession handles GET /api/v1/session.
func (s *Service) HandleSession(w http.ResponseWriter, r *http.Request) {
	if err := s.clock.SyncFromStore(r.Context(), s.store); err != nil {
		writeDomainError(w, err)
		return
	}

	now := time.Now().UTC()
	elapsed, started := s.clock.ElapsedAt(now)
	view := SessionView{
		HasTrades:      started,
		ServerNow:      now,
		Phase:          string(s.clock.PhaseAt(now)),
		ElapsedSeconds: int64(elapsed / time.Second),
		DurationSecs:   int64(s.clock.Duration() / time.Second),
	}
	if started {
		start := s.clock.SessionStart()
		view.SessionStart = &start
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleInsurance handles POST /api/v1/insurance.
func (s *Service) HandleInsurance(w http.ResponseWriter, r *http.Request) {
	var req InsuranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	player, err := s.ClaimInsurance(r.Context(), req.PlayerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

// HandleListPosts handles GET /api/v1/timeline.
func (s *Service) HandleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListPosts(r.Context(), s.cfg.TimelineLimit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if posts == nil {
		posts = []model.TimelinePost{}
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleCreatePost handles POST /api/v1/timeline.
func (s *Service) HandleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	post, err := s.PublishPost(r.Context(), req.PlayerID, req.Category, req.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

// HandleRankings handles GET /api/v1/rankings.
func (s *Service) HandleRankings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.rankings.Standings(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []ranking.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleNeighbors handles GET /api/v1/rankings/{playerID}/neighbors.
func (s *Service) HandleNeighbors(w http.ResponseWriter, r *http.Request) {
	n, err := s.rankings.NeighborGaps(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// HandleCardCatalog handles GET /api/v1/cards.
func (s *Service) HandleCardCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cards.Catalog())
}

// HandlePlayerCards handles GET /api/v1/players/{playerID}/cards.
func (s *Service) HandlePlayerCards(w http.ResponseWriter, r *http.Request) {
	grants, err := s.cards.Grants(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if grants == nil {
		grants = []model.CardGrant{}
	}
	writeJSON(w, http.StatusOK, grants)
}

// HandleCardAction handles POST /api/v1/cards.
func (s *Service) HandleCardAction(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlayerID == "" || req.CardID == "" {
		writeError(w, "player_id and card_id are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch req.Action {
	case "buy":
		if err := s.PurchaseCard(ctx, req.PlayerID, req.CardID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case "activate":
		grant, err := s.cards.Activate(ctx, req.PlayerID, req.CardID, time.Now().UTC())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, grant)

	case "deactivate":
		if err := s.cards.Deactivate(ctx, req.PlayerID, req.CardID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		writeError(w, "action must be buy, activate, or deactivate", http.StatusBadRequest)
	}
}

// HandlePricesHidden handles GET /api/v1/hide-prices.
func (s *Service) HandlePricesHidden(w http.ResponseWriter, r *http.Request) {
	hidden, err := s.cards.PricesHidden(r.Context(), time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hidden": hidden})
}

// HandleFireEvent handles POST /api/v1/events/{event}: the manual
// trigger used when no background scheduler is running. Firing an
// already-applied event succeeds without re-applying it.
func (s *Service) HandleFireEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "event")
	err := s.scheduler.Fire(r.Context(), name, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": name})
}

// --- Helpers ---

// Seed creates the configured symbols if they do not exist yet.
func (s *Service) Seed(ctx context.Context) error {
	for _, rule := range s.cfg.Symbols {
		if _, err := s.store.GetSymbol(ctx, rule.Symbol); err == nil {
			continue
		}
		sym := &model.Symbol{
			Symbol:      rule.Symbol,
			Name:        rule.Name,
			BasePrice:   rule.BasePrice,
			Coefficient: rule.Coefficient,
			MaxHoldings: rule.MaxHoldings,
			Price:       rule.BasePrice,
			UpdatedAt:   time.Now().UTC(),
		}
		if err := s.store.CreateSymbol(ctx, sym); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) symbolViews(ctx context.Context) ([]SymbolView, error) {
	symbols, err := s.store.ListSymbols(ctx)
	if err != nil {
		return nil, err
	}
	hidden, err := s.cards.PricesHidden(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	views := make([]SymbolView, 0, len(symbols))
	for i := range symbols {
		views = append(views, symbolView(&symbols[i], hidden))
	}
	return views, nil
}

func symbolView(sym *model.Symbol, hidden bool) SymbolView {
	view := SymbolView{
		Symbol:      sym.Symbol,
		Name:        sym.Name,
		Volume:      sym.Volume,
		MaxHoldings: sym.MaxHoldings,
		Hidden:      hidden,
	}
	if !hidden {
		view.Price = sym.Price
		view.ChangeRate = pricing.ChangeRate(sym.BasePrice, sym.Price).String() + "%"
	} else {
		view.ChangeRate = decimal.Zero.String() + "%"
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeDomainError maps domain sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrCooldownActive):
		writeError(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, model.ErrVersionConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInvalidParameters),
		errors.Is(err, model.ErrSessionEnded),
		errors.Is(err, model.ErrSessionNotReached),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInsufficientHoldings),
		errors.Is(err, model.ErrLimitExceeded),
		errors.Is(err, model.ErrCardAlreadyPurchased),
		errors.Is(err, model.ErrCardNotPurchased),
		errors.Is(err, model.ErrCardAlreadyActive),
		errors.Is(err, model.ErrPrerequisiteMissing),
		errors.Is(err, model.ErrInsuranceUsed),
		errors.Is(err, model.ErrInsuranceIneligible):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}
