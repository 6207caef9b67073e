// Package kis implements the broker.Client contract against the Korea
// Investment & Securities OpenAPI. All numeric payload fields arrive as
// strings and are parsed here; daily price history arrives newest first and
// is normalized to oldest first before returning.
package kis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kyu1204/kingsick-mk4-sub000/internal/broker"
	"github.com/kyu1204/kingsick-mk4-sub000/internal/logging"
)

const (
	// ProductionURL is the live trading endpoint.
	ProductionURL = "https://openapi.koreainvestment.com:9443"
	// SandboxURL is the paper trading endpoint.
	SandboxURL = "https://openapivts.koreainvestment.com:29443"

	requestTimeout = 30 * time.Second
	maxRetries     = 3
	retryBackoff   = 1 * time.Second

	// Token-expired message code from the API gateway.
	tokenExpiredCode = "EGW00123"
)

// Transaction IDs for the endpoints this client uses. The sandbox variants
// swap the leading T for a V on the trading calls.
const (
	trCurrentPrice = "FHKST01010100"
	trDailyPrice   = "FHKST01010400"
	trBuyOrder     = "TTTC0802U"
	trSellOrder    = "TTTC0801U"
	trBalance      = "TTTC8434R"
)

// Config holds the credentials and endpoint selection for one account.
type Config struct {
	AppKey    string
	AppSecret string
	AccountNo string // format: 12345678-01
	Sandbox   bool
}

// Client talks to the KIS OpenAPI. The access token is cached and reissued
// lazily; token issuance is the only critical section.
type Client struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a KIS client for the given account.
func NewClient(config Config, log *logging.Logger) *Client {
	baseURL := ProductionURL
	if config.Sandbox {
		baseURL = SandboxURL
	}
	return &Client{
		config:     config,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		log:        log.WithComponent("kis"),
	}
}

// ----------------------------------------------------------------------------
// Authentication
// ----------------------------------------------------------------------------

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate issues a new access token, replacing any cached one.
func (c *Client) Authenticate(ctx context.Context) error {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return c.issueTokenLocked(ctx)
}

func (c *Client) issueTokenLocked(ctx context.Context) error {
	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.config.AppKey,
		"appsecret":  c.config.AppSecret,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/tokenP", bytes.NewReader(body))
	if err != nil {
		return broker.NewTransportError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return broker.NewTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return broker.NewTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return broker.NewProviderError(strconv.Itoa(resp.StatusCode), "token issue failed: "+string(data))
	}

	var tok tokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		return broker.NewTransportError(fmt.Errorf("parsing token response: %w", err))
	}
	if tok.AccessToken == "" {
		return broker.NewProviderError("", "empty access token in response")
	}

	c.accessToken = tok.AccessToken
	// Refresh one minute early so in-flight requests never race expiry.
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	c.log.Info("access token issued", "expires_in", tok.ExpiresIn)
	return nil
}

// token returns a valid cached token, issuing one if needed.
func (c *Client) token(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken == "" || time.Now().After(c.tokenExpiry) {
		if err := c.issueTokenLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

// invalidateToken drops the cached token after an expired response.
func (c *Client) invalidateToken() {
	c.tokenMu.Lock()
	c.accessToken = ""
	c.tokenMu.Unlock()
}

// ----------------------------------------------------------------------------
// Request plumbing
// ----------------------------------------------------------------------------

// apiEnvelope is the common wrapper KIS puts around every response.
type apiEnvelope struct {
	RtCd    string          `json:"rt_cd"`
	MsgCd   string          `json:"msg_cd"`
	Msg1    string          `json:"msg1"`
	Output  json.RawMessage `json:"output"`
	Output1 json.RawMessage `json:"output1"`
	Output2 json.RawMessage `json:"output2"`
}

// doRequest performs one API call with the retry policy: transport errors
// retry up to maxRetries with linear backoff, a token-expired response
// re-authenticates and retries exactly once.
func (c *Client) doRequest(ctx context.Context, method, path, trID string, query url.Values, body any) (*apiEnvelope, error) {
	var lastErr error
	reauthed := false

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, broker.NewTransportError(ctx.Err())
			case <-time.After(time.Duration(attempt) * retryBackoff):
			}
		}

		env, err := c.doOnce(ctx, method, path, trID, query, body)
		if err == nil {
			return env, nil
		}
		lastErr = err

		if broker.IsTokenExpired(err) && !reauthed {
			c.log.Warn("access token expired, re-authenticating")
			c.invalidateToken()
			reauthed = true
			attempt-- // the re-auth retry does not consume a transport attempt
			continue
		}
		if !broker.IsRetryable(err) {
			return nil, err
		}
		c.log.Warn("transport error, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path, trID string, query url.Values, body any) (*apiEnvelope, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	var rawBody []byte
	if body != nil {
		rawBody, err = json.Marshal(body)
		if err != nil {
			return nil, broker.NewTransportError(err)
		}
		reader = bytes.NewReader(rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, broker.NewTransportError(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.config.AppKey)
	req.Header.Set("appsecret", c.config.AppSecret)
	req.Header.Set("tr_id", c.resolveTrID(trID))
	req.Header.Set("custtype", "P")

	// Order bodies must be hashkey-signed.
	if rawBody != nil {
		hash, err := c.hashkey(ctx, rawBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("hashkey", hash)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, broker.NewTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, broker.NewTransportError(err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, broker.NewTokenExpiredError(strconv.Itoa(resp.StatusCode), string(data))
	}
	if resp.StatusCode >= 500 {
		return nil, broker.NewTransportError(fmt.Errorf("server error %d: %s", resp.StatusCode, data))
	}

	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, broker.NewTransportError(fmt.Errorf("parsing response: %w", err))
	}
	if env.RtCd != "0" {
		if env.MsgCd == tokenExpiredCode {
			return nil, broker.NewTokenExpiredError(env.MsgCd, env.Msg1)
		}
		return nil, broker.NewProviderError(env.MsgCd, env.Msg1)
	}
	return &env, nil
}

// hashkey signs a request body through the provider's hashkey endpoint.
func (c *Client) hashkey(ctx context.Context, rawBody []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uapi/hashkey", bytes.NewReader(rawBody))
	if err != nil {
		return "", broker.NewTransportError(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("appkey", c.config.AppKey)
	req.Header.Set("appsecret", c.config.AppSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", broker.NewTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", broker.NewTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", broker.NewTransportError(fmt.Errorf("hashkey returned status %d: %s", resp.StatusCode, data))
	}

	var out struct {
		Hash string `json:"HASH"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", broker.NewTransportError(fmt.Errorf("parsing hashkey response: %w", err))
	}
	if out.Hash == "" {
		return "", broker.NewTransportError(fmt.Errorf("empty hashkey response"))
	}
	return out.Hash, nil
}

// resolveTrID swaps live trading transaction IDs for their sandbox variants.
func (c *Client) resolveTrID(trID string) string {
	if c.config.Sandbox && strings.HasPrefix(trID, "T") {
		return "V" + trID[1:]
	}
	return trID
}

// ----------------------------------------------------------------------------
// Market data
// ----------------------------------------------------------------------------

type priceOutput struct {
	StckPrpr     string `json:"stck_prpr"`      // current price
	StckOprc     string `json:"stck_oprc"`      // open
	StckHgpr     string `json:"stck_hgpr"`      // high
	StckLwpr     string `json:"stck_lwpr"`      // low
	PrdyCtrt     string `json:"prdy_ctrt"`      // change rate vs. previous day
	AcmlVol      string `json:"acml_vol"`       // accumulated volume
	HtsKorIsnm   string `json:"hts_kor_isnm"`   // korean name
	StckShrnIscd string `json:"stck_shrn_iscd"` // short code
}

// GetStockPrices fetches current quotes. The API takes one code per request,
// so the batch fans out sequentially; a failed code fails the batch.
func (c *Client) GetStockPrices(ctx context.Context, codes []string) ([]broker.StockPrice, error) {
	out := make([]broker.StockPrice, 0, len(codes))
	for _, code := range codes {
		price, err := c.getStockPrice(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("fetching price for %s: %w", code, err)
		}
		out = append(out, *price)
	}
	return out, nil
}

func (c *Client) getStockPrice(ctx context.Context, code string) (*broker.StockPrice, error) {
	query := url.Values{}
	query.Set("fid_cond_mrkt_div_code", "J")
	query.Set("fid_input_iscd", code)

	env, err := c.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-price", trCurrentPrice, query, nil)
	if err != nil {
		return nil, err
	}

	var out priceOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return nil, broker.NewTransportError(fmt.Errorf("parsing price output: %w", err))
	}

	name := out.HtsKorIsnm
	if name == "" {
		name = code
	}
	return &broker.StockPrice{
		Code:         code,
		Name:         name,
		CurrentPrice: parseFloat(out.StckPrpr),
		Open:         parseFloat(out.StckOprc),
		High:         parseFloat(out.StckHgpr),
		Low:          parseFloat(out.StckLwpr),
		ChangeRate:   parseFloat(out.PrdyCtrt),
		Volume:       parseInt(out.AcmlVol),
	}, nil
}

type dailyPriceOutput struct {
	StckBsopDate string `json:"stck_bsop_date"` // YYYYMMDD
	StckOprc     string `json:"stck_oprc"`
	StckHgpr     string `json:"stck_hgpr"`
	StckLwpr     string `json:"stck_lwpr"`
	StckClpr     string `json:"stck_clpr"`
	AcmlVol      string `json:"acml_vol"`
}

// GetDailyPrices fetches daily bars and returns them oldest first.
func (c *Client) GetDailyPrices(ctx context.Context, code string, count int) ([]broker.DailyPrice, error) {
	if count <= 0 {
		count = broker.DefaultDailyPriceCount
	}

	query := url.Values{}
	query.Set("fid_cond_mrkt_div_code", "J")
	query.Set("fid_input_iscd", code)
	query.Set("fid_period_div_code", "D")
	query.Set("fid_org_adj_prc", "0")

	env, err := c.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-daily-price", trDailyPrice, query, nil)
	if err != nil {
		return nil, err
	}

	var rows []dailyPriceOutput
	if err := json.Unmarshal(env.Output, &rows); err != nil {
		return nil, broker.NewTransportError(fmt.Errorf("parsing daily price output: %w", err))
	}
	if len(rows) > count {
		rows = rows[:count]
	}

	// The API returns newest first; reverse into chronological order.
	bars := make([]broker.DailyPrice, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		date, err := time.Parse("20060102", row.StckBsopDate)
		if err != nil {
			continue
		}
		bars = append(bars, broker.DailyPrice{
			Date:   date,
			Open:   parseFloat(row.StckOprc),
			High:   parseFloat(row.StckHgpr),
			Low:    parseFloat(row.StckLwpr),
			Close:  parseFloat(row.StckClpr),
			Volume: parseInt(row.AcmlVol),
		})
	}
	return bars, nil
}

// ----------------------------------------------------------------------------
// Trading
// ----------------------------------------------------------------------------

type orderOutput struct {
	KrxFwdgOrdOrgno string `json:"krx_fwdg_ord_orgno"`
	Odno            string `json:"odno"` // order number
	OrdTmd          string `json:"ord_tmd"`
}

// PlaceOrder submits a cash order. A nil price places a market order
// (ord_dvsn 01), otherwise a limit order (ord_dvsn 00).
func (c *Client) PlaceOrder(ctx context.Context, code string, side broker.Side, quantity int, price *float64) (*broker.OrderResult, error) {
	if quantity <= 0 {
		return nil, broker.NewProviderError("", "quantity must be positive")
	}

	cano, prdt := splitAccount(c.config.AccountNo)
	ordDvsn, ordPrice := "01", "0"
	if price != nil {
		ordDvsn = "00"
		ordPrice = strconv.Itoa(int(*price))
	}

	payload := map[string]string{
		"CANO":         cano,
		"ACNT_PRDT_CD": prdt,
		"PDNO":         code,
		"ORD_DVSN":     ordDvsn,
		"ORD_QTY":      strconv.Itoa(quantity),
		"ORD_UNPR":     ordPrice,
	}

	trID := trBuyOrder
	if side == broker.SideSell {
		trID = trSellOrder
	}

	env, err := c.doRequest(ctx, http.MethodPost, "/uapi/domestic-stock/v1/trading/order-cash", trID, nil, payload)
	if err != nil {
		return nil, err
	}

	var out orderOutput
	if err := json.Unmarshal(env.Output, &out); err != nil {
		return nil, broker.NewTransportError(fmt.Errorf("parsing order output: %w", err))
	}

	c.log.Info("order accepted", "code", code, "side", string(side), "quantity", quantity, "order_id", out.Odno)
	return &broker.OrderResult{
		Success: true,
		OrderID: out.Odno,
		Message: env.Msg1,
		Status:  broker.StatusPending,
	}, nil
}

// ----------------------------------------------------------------------------
// Account
// ----------------------------------------------------------------------------

type balancePosition struct {
	Pdno        string `json:"pdno"`          // stock code
	PrdtName    string `json:"prdt_name"`     // stock name
	HldgQty     string `json:"hldg_qty"`      // holding quantity
	PchsAvgPric string `json:"pchs_avg_pric"` // purchase average price
	Prpr        string `json:"prpr"`          // current price
	EvluPflsAmt string `json:"evlu_pfls_amt"` // evaluation profit/loss
	EvluPflsRt  string `json:"evlu_pfls_rt"`  // evaluation profit/loss rate
}

type balanceSummary struct {
	DncaTotAmt  string `json:"dnca_tot_amt"`      // deposit total
	TotEvluAmt  string `json:"tot_evlu_amt"`      // total evaluation
	PchsAmtSmtl string `json:"pchs_amt_smtl_amt"` // purchase amount total
	OrdPsblCash string `json:"ord_psbl_cash"`     // orderable cash
}

func (c *Client) balanceQuery() url.Values {
	cano, prdt := splitAccount(c.config.AccountNo)
	query := url.Values{}
	query.Set("CANO", cano)
	query.Set("ACNT_PRDT_CD", prdt)
	query.Set("AFHR_FLPR_YN", "N")
	query.Set("OFL_YN", "")
	query.Set("INQR_DVSN", "02")
	query.Set("UNPR_DVSN", "01")
	query.Set("FUND_STTL_ICLD_YN", "N")
	query.Set("FNCG_AMT_AUTO_RDPT_YN", "N")
	query.Set("PRCS_DVSN", "00")
	query.Set("CTX_AREA_FK100", "")
	query.Set("CTX_AREA_NK100", "")
	return query
}

// GetPositions returns the account's holdings with nonzero quantity.
func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", trBalance, c.balanceQuery(), nil)
	if err != nil {
		return nil, err
	}

	var rows []balancePosition
	if err := json.Unmarshal(env.Output1, &rows); err != nil {
		return nil, broker.NewTransportError(fmt.Errorf("parsing balance positions: %w", err))
	}

	positions := make([]broker.Position, 0, len(rows))
	for _, row := range rows {
		qty := int(parseInt(row.HldgQty))
		if qty <= 0 {
			continue
		}
		positions = append(positions, broker.Position{
			StockCode:      row.Pdno,
			StockName:      row.PrdtName,
			Quantity:       qty,
			AvgPrice:       parseFloat(row.PchsAvgPric),
			CurrentPrice:   parseFloat(row.Prpr),
			ProfitLoss:     parseFloat(row.EvluPflsAmt),
			ProfitLossRate: parseFloat(row.EvluPflsRt),
		})
	}
	return positions, nil
}

// GetBalance returns the account's cash summary.
func (c *Client) GetBalance(ctx context.Context) (*broker.Balance, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", trBalance, c.balanceQuery(), nil)
	if err != nil {
		return nil, err
	}

	var rows []balanceSummary
	if err := json.Unmarshal(env.Output2, &rows); err != nil {
		return nil, broker.NewTransportError(fmt.Errorf("parsing balance summary: %w", err))
	}
	if len(rows) == 0 {
		return &broker.Balance{}, nil
	}

	row := rows[0]
	available := parseFloat(row.OrdPsblCash)
	if available == 0 {
		available = parseFloat(row.DncaTotAmt)
	}
	return &broker.Balance{
		AvailableAmount: available,
		TotalEvaluation: parseFloat(row.TotEvluAmt),
		TotalPurchase:   parseFloat(row.PchsAmtSmtl),
	}, nil
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func splitAccount(accountNo string) (cano, prdt string) {
	parts := strings.SplitN(accountNo, "-", 2)
	cano = parts[0]
	prdt = "01"
	if len(parts) == 2 && parts[1] != "" {
		prdt = parts[1]
	}
	return cano, prdt
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v
}

var _ broker.Client = (*Client)(nil)
