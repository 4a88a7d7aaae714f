package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/allocator"
	"github.com/atmx/settlement-engine/internal/api"
	"github.com/atmx/settlement-engine/internal/bins"
	"github.com/atmx/settlement-engine/internal/engine"
	"github.com/atmx/settlement-engine/internal/interest"
	"github.com/atmx/settlement-engine/internal/market"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/oracle"
	"github.com/atmx/settlement-engine/internal/solvency"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/valuation"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func price(p int64) decimal.Decimal {
	return d(p).Mul(d(100_000_000))
}

type testEnv struct {
	svc    *api.Service
	router chi.Router
	store  *store.MemoryStore
	clock  int64
}

// newTestEnv wires the full core over an in-memory store and chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithHub(t, nil)
}

func newTestEnvWithHub(t *testing.T, hub *api.WSHub) *testEnv {
	t.Helper()
	env := &testEnv{store: store.NewMemoryStore(), clock: 1_700_000_000}

	cfg, err := market.NewConfig("ETH-USDC-PERP")
	if err != nil {
		t.Fatal(err)
	}
	cfg.MakerMarginPerQty = d(5000)
	cfg.KeeperFee = d(100)

	table := oracle.NewTable()
	rates := interest.NewSchedule(cfg.Precision)
	ledger := bins.NewLedger(table)
	alloc, err := allocator.New(ledger, cfg.MakerMarginPerQty)
	if err != nil {
		t.Fatal(err)
	}
	valuer := valuation.New(table, rates, cfg.Precision)
	eng := engine.New(cfg, table, alloc, valuer, solvency.NewPredicate(valuer), rates,
		engine.WithClock(func() int64 { return env.clock }))

	env.svc = api.NewService(api.Core{Engine: eng, Oracle: table, Rates: rates, Ledger: ledger}, env.store, hub)
	r := chi.NewRouter()
	r.Route("/api/v1", env.svc.Routes)
	env.router = r
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func (env *testEnv) mustDo(t *testing.T, method, path string, body any, want int) *httptest.ResponseRecorder {
	t.Helper()
	w := env.do(t, method, path, body)
	if w.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, w.Code, w.Body.String())
	}
	return w
}

func (env *testEnv) publish(t *testing.T, p decimal.Decimal) {
	t.Helper()
	env.clock++
	env.mustDo(t, "POST", "/oracle/snapshots", api.SnapshotRequest{Price: p}, http.StatusCreated)
}

func (env *testEnv) seedLiquidity(t *testing.T) {
	t.Helper()
	env.mustDo(t, "POST", "/liquidity/deposit", api.LiquidityRequest{
		Owner: "maker",
		Bins: []model.BinMargin{
			{Tier: 1, Amount: d(10_000_000)},
			{Tier: 10, Amount: d(50_000_000)},
		},
	}, http.StatusOK)
}

func openRequest() engine.OpenRequest {
	return engine.OpenRequest{
		Owner:           "trader",
		SettlementToken: "USDC",
		Qty:             d(10_000),
		Leverage:        decimal.RequireFromString("5.00"),
		TakerMargin:     d(1_000_000),
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

// --- Position lifecycle ---

func TestPositionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, decimal.Zero) // v1 guard
	env.seedLiquidity(t)

	w := env.mustDo(t, "POST", "/positions", openRequest(), http.StatusCreated)
	pos := decode[model.Position](t, w)
	if pos.ID != 1 || !pos.MakerMargin.Equal(d(50_000_000)) || len(pos.Bins) != 2 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if !pos.Bins[0].Amount.Equal(d(10_000_000)) || !pos.Bins[1].Amount.Equal(d(40_000_000)) {
		t.Errorf("unexpected distribution %v", pos.Bins)
	}

	book := decode[api.BinsResponse](t, env.mustDo(t, "GET", "/bins", nil, http.StatusOK))
	reserved := decimal.Zero
	for _, b := range book.Long {
		reserved = reserved.Add(b.ReservedLiquidity)
	}
	if !reserved.Equal(d(50_000_000)) {
		t.Errorf("expected 50000000 reserved, got %s", reserved)
	}

	env.publish(t, price(1000)) // v2: entry
	env.publish(t, price(1100)) // v3: exit

	w = env.mustDo(t, "POST", "/positions/1/close",
		api.CloseRequest{Caller: "trader", KeeperFeeLimit: d(100)}, http.StatusOK)
	st := decode[model.Settlement](t, w)
	if !st.PnL.Equal(d(5000)) || !st.Net.Equal(d(4900)) {
		t.Errorf("expected pnl 5000 net 4900, got %s / %s", st.PnL, st.Net)
	}

	got := decode[model.Position](t, env.mustDo(t, "GET", "/positions/1", nil, http.StatusOK))
	if got.Status != model.StatusClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}

	settlements := decode[[]model.Settlement](t, env.mustDo(t, "GET", "/settlements?owner=trader", nil, http.StatusOK))
	if len(settlements) != 1 || settlements[0].PositionID != 1 {
		t.Errorf("unexpected settlements %v", settlements)
	}
	mirrored, err := env.store.ListPositions(context.Background(), model.StatusClosed)
	if err != nil || len(mirrored) != 1 {
		t.Errorf("store mirror missing closed position: %v %v", mirrored, err)
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "GET", "/oracle/latest", nil, http.StatusNotFound)

	env.publish(t, decimal.Zero)
	env.seedLiquidity(t)

	bad := openRequest()
	bad.SettlementToken = "DAI"
	env.mustDo(t, "POST", "/positions", bad, http.StatusBadRequest)

	big := openRequest()
	big.Qty = d(20_000)
	env.mustDo(t, "POST", "/positions", big, http.StatusConflict)

	env.mustDo(t, "POST", "/positions", openRequest(), http.StatusCreated)

	closeReq := api.CloseRequest{Caller: "trader", KeeperFeeLimit: d(100)}
	env.mustDo(t, "POST", "/positions/9/close", closeReq, http.StatusNotFound)
	env.mustDo(t, "POST", "/positions/abc/close", closeReq, http.StatusBadRequest)
	// entry price (v2) not yet published
	env.mustDo(t, "POST", "/positions/1/close", closeReq, http.StatusUnprocessableEntity)

	env.publish(t, price(1000))
	env.mustDo(t, "POST", "/positions/1/close",
		api.CloseRequest{Caller: "trader", KeeperFeeLimit: d(1)}, http.StatusUnprocessableEntity)
	env.mustDo(t, "POST", "/positions/1/close",
		api.CloseRequest{Caller: "thief", KeeperFeeLimit: d(100)}, http.StatusBadRequest)
	env.mustDo(t, "GET", "/oracle/versions/7", nil, http.StatusNotFound)
}

func TestLiquidation(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, decimal.Zero)
	env.seedLiquidity(t)

	req := openRequest()
	req.TakerMargin = d(1000)
	env.mustDo(t, "POST", "/positions", req, http.StatusCreated)
	env.publish(t, price(1000))

	report := decode[solvencyReport](t, env.mustDo(t, "GET", "/positions/1/solvency", nil, http.StatusOK))
	if report.Liquidatable {
		t.Fatal("fresh position should be solvent")
	}
	env.mustDo(t, "POST", "/positions/1/liquidate", nil, http.StatusUnprocessableEntity)

	env.publish(t, price(900))
	report = decode[solvencyReport](t, env.mustDo(t, "GET", "/positions/1/solvency", nil, http.StatusOK))
	if !report.Liquidatable {
		t.Fatalf("expected liquidatable, equity %s", report.Equity)
	}

	st := decode[model.Settlement](t, env.mustDo(t, "POST", "/positions/1/liquidate", nil, http.StatusOK))
	if st.Kind != model.SettlementLiquidation || !st.KeeperFee.Equal(d(100)) {
		t.Errorf("unexpected settlement %+v", st)
	}
	env.mustDo(t, "POST", "/positions/1/liquidate", nil, http.StatusNotFound)
}

type solvencyReport struct {
	Liquidatable bool            `json:"liquidatable"`
	Equity       decimal.Decimal `json:"equity"`
}

func TestLiquidityReceipts(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, decimal.Zero)

	w := env.mustDo(t, "POST", "/liquidity/add",
		api.LiquidityRequest{Owner: "maker", Tier: -5, Amount: d(1_000)}, http.StatusCreated)
	receipts := decode[[]model.LiquidityReceipt](t, w)
	if len(receipts) != 1 || receipts[0].RequestedOracleVersion != 1 {
		t.Fatalf("unexpected receipts %v", receipts)
	}

	got := decode[model.LiquidityReceipt](t, env.mustDo(t, "GET", "/liquidity/receipts/1", nil, http.StatusOK))
	if got.Owner != "maker" || got.Tier != -5 {
		t.Errorf("unexpected receipt %+v", got)
	}
	env.mustDo(t, "POST", "/liquidity/receipts/1/claim", nil, http.StatusUnprocessableEntity)
	if pending, _ := env.store.ListReceipts(context.Background(), "maker"); len(pending) != 1 {
		t.Errorf("expected mirrored receipt, got %v", pending)
	}

	env.publish(t, price(1000))
	env.mustDo(t, "POST", "/liquidity/receipts/1/claim", nil, http.StatusOK)
	env.mustDo(t, "POST", "/liquidity/receipts/1/claim", nil, http.StatusNotFound)
	env.mustDo(t, "GET", "/liquidity/receipts/1", nil, http.StatusNotFound)

	book := decode[api.BinsResponse](t, env.mustDo(t, "GET", "/bins", nil, http.StatusOK))
	if len(book.Short) != 1 || !book.Short[0].TotalLiquidity.Equal(d(1_000)) {
		t.Errorf("unexpected short book %+v", book.Short)
	}
	if pending, _ := env.store.ListReceipts(context.Background(), "maker"); len(pending) != 0 {
		t.Errorf("claimed receipt still mirrored: %v", pending)
	}

	env.mustDo(t, "POST", "/liquidity/remove",
		api.LiquidityRequest{Owner: "maker", Tier: -5, Amount: d(2_000)}, http.StatusConflict)
	env.mustDo(t, "POST", "/liquidity/deposit",
		api.LiquidityRequest{Tier: 7, Amount: d(-1)}, http.StatusBadRequest)

	batch := []model.BinMargin{{Tier: -5, Amount: d(100)}}
	env.mustDo(t, "POST", "/liquidity/remove",
		api.LiquidityRequest{Owner: "maker", Bins: batch}, http.StatusBadRequest)
	env.mustDo(t, "POST", "/liquidity/withdraw",
		api.LiquidityRequest{Owner: "maker", Bins: batch}, http.StatusBadRequest)
	book = decode[api.BinsResponse](t, env.mustDo(t, "GET", "/bins", nil, http.StatusOK))
	if !book.Short[0].TotalLiquidity.Equal(d(1_000)) {
		t.Errorf("rejected batch changed the book: %+v", book.Short)
	}
}

func TestRatesAndInterest(t *testing.T) {
	env := newTestEnv(t)
	start := env.clock
	env.mustDo(t, "POST", "/rates", api.RateRequest{AnnualRateBps: 1500, EffectiveFrom: start}, http.StatusCreated)
	env.mustDo(t, "POST", "/rates", api.RateRequest{AnnualRateBps: 1000, EffectiveFrom: start}, http.StatusUnprocessableEntity)

	rates := decode[[]model.RateRecord](t, env.mustDo(t, "GET", "/rates", nil, http.StatusOK))
	if len(rates) != 1 || rates[0].AnnualRateBps != 1500 {
		t.Errorf("unexpected rates %v", rates)
	}

	at := decode[model.RateRecord](t, env.mustDo(t, "GET", "/rates?at="+strconv.FormatInt(start+5, 10), nil, http.StatusOK))
	if at.AnnualRateBps != 1500 || at.BeginTimestamp != start {
		t.Errorf("unexpected rate at %d: %+v", start+5, at)
	}
	env.mustDo(t, "GET", "/rates?at="+strconv.FormatInt(start-1, 10), nil, http.StatusNotFound)
	env.mustDo(t, "GET", "/rates?at=soon", nil, http.StatusBadRequest)

	env.publish(t, decimal.Zero)
	env.seedLiquidity(t)
	pos := decode[model.Position](t, env.mustDo(t, "POST", "/positions", openRequest(), http.StatusCreated))

	path := "/positions/1/interest?at=" + strconv.FormatInt(pos.OpenTimestamp+101, 10)
	resp := decode[api.InterestResponse](t, env.mustDo(t, "GET", path, nil, http.StatusOK))
	// 50e6 * 1500 * 101 / (31536000 * 10000) truncated
	if !resp.InterestFee.Equal(d(24)) {
		t.Errorf("expected 24, got %s", resp.InterestFee)
	}
}

func TestSnapshotBatchLookup(t *testing.T) {
	env := newTestEnv(t)
	env.publish(t, decimal.Zero)
	env.publish(t, price(1000))
	env.publish(t, price(1100))

	snaps := decode[[]model.OracleSnapshot](t, env.mustDo(t, "GET", "/oracle/versions?v=3,9,1", nil, http.StatusOK))
	if len(snaps) != 2 || snaps[0].Version != 3 || snaps[1].Version != 1 {
		t.Fatalf("unexpected snapshots %+v", snaps)
	}
	if !snaps[0].Price.Equal(price(1100)) {
		t.Errorf("expected price %s, got %s", price(1100), snaps[0].Price)
	}
	env.mustDo(t, "GET", "/oracle/versions?v=1,x", nil, http.StatusBadRequest)
	env.mustDo(t, "GET", "/oracle/versions", nil, http.StatusBadRequest)
}

// --- WebSocket ---

func TestWebSocketEvents(t *testing.T) {
	hub := api.NewWSHub()
	go hub.Run()
	env := newTestEnvWithHub(t, hub)

	srv := httptest.NewServer(api.NewRouter(env.svc))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v (response %v)", url, err, resp)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.publish(t, decimal.Zero)
	env.seedLiquidity(t)
	env.mustDo(t, "POST", "/positions", openRequest(), http.StatusCreated)
	env.publish(t, price(1000))
	env.mustDo(t, "POST", "/positions/1/close",
		api.CloseRequest{Caller: "trader", KeeperFeeLimit: d(100)}, http.StatusOK)

	want := []string{"oracle_updated", "position_opened", "oracle_updated", "position_closed"}
	for i, typ := range want {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if msg.Type != typ {
			t.Fatalf("message %d: expected %s, got %+v", i, typ, msg)
		}
		if typ == "position_closed" && (msg.PositionID != 1 || msg.Owner != "trader") {
			t.Errorf("unexpected close event %+v", msg)
		}
	}
}
