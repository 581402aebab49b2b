package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"tokenpay/internal/apperr"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, PID: "1001", Key: "KEY123"}, srv.Client())
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/mapi.php" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			return
		}
		params := map[string]string{}
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !Verify(params, "KEY123") {
			t.Error("request signature does not verify")
		}
		if params["money"] != "9.00" || params["device"] != "pc" || params["sign_type"] != "MD5" {
			t.Errorf("unexpected params: %v", params)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":1,"msg":"ok","O_id":"Z123","payurl":"https://pay/x","img":"https://qr/x"}`))
	})

	result, err := client.CreateOrder(context.Background(), CreateOrderRequest{
		PaymentType: "alipay",
		OutTradeNo:  "T1",
		NotifyURL:   "https://example.com/notify",
		Name:        "500 Tokens",
		Money:       decimal.RequireFromString("9"),
		ClientIP:    "127.0.0.1",
		Param:       "package_500",
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if result.TradeNo != "Z123" || result.PayURL != "https://pay/x" || result.QRCode != "https://qr/x" {
		t.Errorf("result = %+v", result)
	}
}

func TestCreateOrderFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"gateway rejects", http.StatusOK, `{"code":-1,"msg":"商户不存在"}`, apperr.ErrGatewayRequestFailed},
		{"string code", http.StatusOK, `{"code":"0","msg":"签名错误"}`, apperr.ErrGatewayRequestFailed},
		{"http error", http.StatusBadGateway, `bad gateway`, apperr.ErrGatewayRequestFailed},
		{"bad json", http.StatusOK, `<html>`, apperr.ErrGatewayRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.CreateOrder(context.Background(), CreateOrderRequest{OutTradeNo: "T1", Money: decimal.NewFromInt(1)})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateOrder() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIncompleteConfig(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://pay.example.com"}, nil)
	ctx := context.Background()

	if _, err := client.CreateOrder(ctx, CreateOrderRequest{}); !errors.Is(err, apperr.ErrGatewayConfigIncomplete) {
		t.Errorf("CreateOrder() error = %v", err)
	}
	if _, err := client.QueryOrder(ctx, "T1"); !errors.Is(err, apperr.ErrGatewayConfigIncomplete) {
		t.Errorf("QueryOrder() error = %v", err)
	}
	if err := client.Refund(ctx, "T1", decimal.NewFromInt(1)); !errors.Is(err, apperr.ErrGatewayConfigIncomplete) {
		t.Errorf("Refund() error = %v", err)
	}
}

func TestQueryOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api.php" || q.Get("act") != "order" || q.Get("pid") != "1001" || q.Get("key") != "KEY123" || q.Get("out_trade_no") != "T1" {
			t.Errorf("unexpected query: %s %s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"code":"1","msg":"查询订单号成功！","trade_no":"G1","out_trade_no":"T1","type":"alipay","pid":1001,"name":"500 Tokens","money":"9.00","status":"1","buyer":"b@x"}`))
	})

	remote, err := client.QueryOrder(context.Background(), "T1")
	if err != nil {
		t.Fatalf("QueryOrder() error = %v", err)
	}
	if !remote.Paid() || remote.Money != "9.00" || remote.TradeNo != "G1" || remote.PID != "1001" || remote.Buyer != "b@x" {
		t.Errorf("remote = %+v", remote)
	}
}

func TestQueryOrderSuccessMessageWithoutCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":0,"msg":"查询订单号成功！","status":0}`))
	})

	remote, err := client.QueryOrder(context.Background(), "T9")
	if err != nil {
		t.Fatalf("QueryOrder() error = %v", err)
	}
	if remote.Paid() || remote.OutTradeNo != "T9" {
		t.Errorf("remote = %+v", remote)
	}
}

func TestRefund(t *testing.T) {
	var got url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		got = r.PostForm
		_, _ = w.Write([]byte(`{"code":1,"msg":"退款成功"}`))
	})

	if err := client.Refund(context.Background(), "T1", decimal.RequireFromString("16")); err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if got.Get("act") != "refund" || got.Get("money") != "16.00" || got.Get("out_trade_no") != "T1" {
		t.Errorf("refund form = %v", got)
	}
}

func TestParseNotification(t *testing.T) {
	values := url.Values{
		"pid":          {"1001"},
		"trade_no":     {"G1"},
		"out_trade_no": {"T1"},
		"type":         {"alipay"},
		"money":        {"9.00"},
		"trade_status": {"TRADE_SUCCESS"},
		"sign_type":    {"MD5"},
		"sign":         {"c2e3a4a31e40b336be08406a738757f1"},
	}

	n := ParseNotification(values)
	if !n.Succeeded() || n.OutTradeNo != "T1" || n.Money != "9.00" {
		t.Errorf("notification = %+v", n)
	}
	if err := VerifyNotification(n, "1001", "KEY123"); err != nil {
		t.Errorf("VerifyNotification() error = %v", err)
	}

	// 签名正确但商户号不是本商户
	if err := VerifyNotification(n, "2002", "KEY123"); !errors.Is(err, apperr.ErrSignatureInvalid) {
		t.Errorf("foreign pid VerifyNotification() error = %v", err)
	}

	values.Set("money", "0.01")
	if err := VerifyNotification(ParseNotification(values), "1001", "KEY123"); !errors.Is(err, apperr.ErrSignatureInvalid) {
		t.Errorf("tampered VerifyNotification() error = %v", err)
	}
}
