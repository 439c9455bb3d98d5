// Package momo talks to the MoMo wallet API v2 (captureWallet flow).
package momo

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"unievent-ticketing/internal/logger"
	"unievent-ticketing/internal/payment"
)

type Config struct {
	Endpoint    string // e.g. https://test-payment.momo.vn/v2/gateway/api
	PartnerCode string
	AccessKey   string
	SecretKey   string
	IPNURL      string
	RedirectURL string
}

type Gateway struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger
	now    func() time.Time
}

func New(cfg Config, client *http.Client, log *logger.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Gateway{cfg: cfg, client: client, log: log, now: time.Now}
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	PartnerName string `json:"partnerName"`
	StoreID     string `json:"storeId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	Lang        string `json:"lang"`
	RequestType string `json:"requestType"`
	AutoCapture bool   `json:"autoCapture"`
	ExtraData   string `json:"extraData"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
	Deeplink    string `json:"deeplink"`
	QRCodeURL   string `json:"qrCodeUrl"`
}

type queryRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	OrderID     string `json:"orderId"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type queryResponse struct {
	OrderID    string `json:"orderId"`
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	TransID    int64  `json:"transId"`
	Amount     int64  `json:"amount"`
}

// IPN is the body MoMo posts to the ipnUrl once a payment settles.
type IPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func (g *Gateway) sign(raw string) string {
	mac := hmac.New(sha256.New, []byte(g.cfg.SecretKey))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// orderID is unique per call: partner code, wall clock and the ticket
// reference.
func (g *Gateway) orderID(reference string) string {
	ref := strings.ReplaceAll(reference, "-", "")
	if len(ref) > 12 {
		ref = ref[:12]
	}
	return g.cfg.PartnerCode + strconv.FormatInt(g.now().UnixMilli(), 10) + ref
}

func (g *Gateway) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	orderID := g.orderID(req.Reference)
	redirectURL := req.RedirectURL
	if redirectURL == "" {
		redirectURL = g.cfg.RedirectURL
	}
	amount := req.Amount.IntPart()

	raw := "accessKey=" + g.cfg.AccessKey +
		"&amount=" + strconv.FormatInt(amount, 10) +
		"&extraData=" +
		"&ipnUrl=" + g.cfg.IPNURL +
		"&orderId=" + orderID +
		"&orderInfo=" + req.OrderInfo +
		"&partnerCode=" + g.cfg.PartnerCode +
		"&redirectUrl=" + redirectURL +
		"&requestId=" + orderID +
		"&requestType=captureWallet"

	body := createRequest{
		PartnerCode: g.cfg.PartnerCode,
		PartnerName: "UniEvent",
		StoreID:     "UniEventTickets",
		RequestID:   orderID,
		Amount:      amount,
		OrderID:     orderID,
		OrderInfo:   req.OrderInfo,
		RedirectURL: redirectURL,
		IPNURL:      g.cfg.IPNURL,
		Lang:        "vi",
		RequestType: "captureWallet",
		AutoCapture: true,
		Signature:   g.sign(raw),
	}

	var resp createResponse
	if err := g.post(ctx, "/create", body, &resp); err != nil {
		return nil, err
	}
	if resp.ResultCode != payment.ResultSuccess || resp.PayURL == "" {
		return nil, fmt.Errorf("%w: momo create %s: %d %s", payment.ErrGateway, orderID, resp.ResultCode, resp.Message)
	}

	g.log.Info("PAYMENT", fmt.Sprintf("MoMo order %s created for %d VND", orderID, amount))
	return &payment.CreateResult{
		OrderID:     resp.OrderID,
		RedirectURL: resp.PayURL,
		Data: map[string]string{
			"requestId": resp.RequestID,
			"deeplink":  resp.Deeplink,
			"qrCodeUrl": resp.QRCodeURL,
		},
	}, nil
}

func (g *Gateway) QueryStatus(ctx context.Context, orderID string) (*payment.StatusResult, error) {
	requestID := fmt.Sprintf("CHECK_%d", g.now().UnixMilli())
	raw := "accessKey=" + g.cfg.AccessKey +
		"&orderId=" + orderID +
		"&partnerCode=" + g.cfg.PartnerCode +
		"&requestId=" + requestID

	body := queryRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   requestID,
		OrderID:     orderID,
		Lang:        "vi",
		Signature:   g.sign(raw),
	}

	var resp queryResponse
	if err := g.post(ctx, "/query", body, &resp); err != nil {
		return nil, err
	}
	return &payment.StatusResult{OrderID: orderID, ResultCode: resp.ResultCode, Message: resp.Message}, nil
}

// ParseCallback decodes and authenticates an IPN body.
func (g *Gateway) ParseCallback(_ http.Header, body []byte) (payment.Callback, error) {
	var ipn IPN
	if err := json.Unmarshal(body, &ipn); err != nil {
		return payment.Callback{}, fmt.Errorf("decode momo ipn: %w", err)
	}
	if !hmac.Equal([]byte(g.sign(ipnRawSignature(g.cfg.AccessKey, ipn))), []byte(ipn.Signature)) {
		return payment.Callback{}, payment.ErrInvalidSignature
	}
	return payment.Callback{OrderID: ipn.OrderID, ResultCode: ipn.ResultCode}, nil
}

func ipnRawSignature(accessKey string, ipn IPN) string {
	return "accessKey=" + accessKey +
		"&amount=" + strconv.FormatInt(ipn.Amount, 10) +
		"&extraData=" + ipn.ExtraData +
		"&message=" + ipn.Message +
		"&orderId=" + ipn.OrderID +
		"&orderInfo=" + ipn.OrderInfo +
		"&orderType=" + ipn.OrderType +
		"&partnerCode=" + ipn.PartnerCode +
		"&payType=" + ipn.PayType +
		"&requestId=" + ipn.RequestID +
		"&responseTime=" + strconv.FormatInt(ipn.ResponseTime, 10) +
		"&resultCode=" + strconv.Itoa(ipn.ResultCode) +
		"&transId=" + strconv.FormatInt(ipn.TransID, 10)
}

func (g *Gateway) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.Endpoint, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Error("PAYMENT", fmt.Sprintf("MoMo %s request failed: %v", path, err))
		return fmt.Errorf("%w: momo %s: %v", payment.ErrGateway, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: momo %s: http %d", payment.ErrGateway, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: momo %s: decode: %v", payment.ErrGateway, path, err)
	}
	return nil
}
