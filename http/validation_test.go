package http

import (
	"encoding/json"
	"testing"

	"github.com/x402-foundation/splitpay"
)

func TestValidateChallenge(t *testing.T) {
	valid, _ := json.Marshal(splitpay.PaymentChallenge{
		ProtocolVersion: 1,
		Accepts: []splitpay.PaymentAccept{{
			Asset:             "mint",
			Network:           splitpay.DefaultNetwork,
			PayTo:             "splitter",
			MaxAmountRequired: "1000000",
			Resource:          "/r",
			Recipients: []splitpay.RecipientAmount{
				{Role: splitpay.RoleMerchant, Address: "m", Share: 90, Amount: 900000},
				{Role: splitpay.RoleAgent, Address: "a", Share: 10, Amount: 100000},
			},
		}},
	})

	challenge, err := ValidateChallenge(valid)
	if err != nil {
		t.Fatalf("Expected valid challenge, got %v", err)
	}
	if challenge.Accepts[0].PayTo != "splitter" || len(challenge.Accepts[0].Recipients) != 2 {
		t.Errorf("Unexpected decode: %+v", challenge)
	}

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing accepts", `{"protocolVersion":1}`},
		{"wrong version", `{"protocolVersion":2,"accepts":[{"asset":"a","network":"n","payTo":"p","maxAmountRequired":"1","resource":"r"}]}`},
		{"empty accepts", `{"protocolVersion":1,"accepts":[]}`},
		{"missing payTo", `{"protocolVersion":1,"accepts":[{"asset":"a","network":"n","maxAmountRequired":"1","resource":"r"}]}`},
		{"amount not numeric", `{"protocolVersion":1,"accepts":[{"asset":"a","network":"n","payTo":"p","maxAmountRequired":"1.5","resource":"r"}]}`},
		{"zero amount", `{"protocolVersion":1,"accepts":[{"asset":"a","network":"n","payTo":"p","maxAmountRequired":"0","resource":"r"}]}`},
		{"unknown role", `{"protocolVersion":1,"accepts":[{"asset":"a","network":"n","payTo":"p","maxAmountRequired":"1","resource":"r","recipients":[{"role":"x","address":"a","amount":1}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateChallenge([]byte(tt.body))
			if err == nil {
				t.Fatal("Expected error")
			}
			if splitpay.ErrorCode(err) != splitpay.ErrCodeInvalidRequest {
				t.Errorf("Expected invalid_request, got %v", err)
			}
		})
	}
}

func TestValidateChallengeReportsFields(t *testing.T) {
	_, err := ValidateChallenge([]byte(`{"protocolVersion":1,"accepts":[{"asset":"a","network":"n","maxAmountRequired":"1","resource":"r"}]}`))
	pe, ok := err.(*splitpay.PaymentError)
	if !ok {
		t.Fatalf("Expected payment error, got %T", err)
	}
	errs, _ := pe.Details["errors"].([]string)
	if len(errs) == 0 {
		t.Fatal("Expected schema errors in details")
	}
}

func TestValidateBuildRequest(t *testing.T) {
	req, err := ValidateBuildRequest([]byte(`{"splitterId":"s","payerIdentity":"p","amount":1000000}`))
	if err != nil {
		t.Fatalf("Expected valid request, got %v", err)
	}
	if req.Amount != 1_000_000 || req.SplitterID != "s" || req.PayerIdentity != "p" {
		t.Errorf("Unexpected decode: %+v", req)
	}

	for _, body := range []string{
		`{"payerIdentity":"p","amount":1}`,
		`{"splitterId":"s","payerIdentity":"","amount":1}`,
		`{"splitterId":"s","payerIdentity":"p","amount":0}`,
		`{"splitterId":"s","payerIdentity":"p","amount":"1"}`,
	} {
		if _, err := ValidateBuildRequest([]byte(body)); err == nil {
			t.Errorf("Expected %s to be rejected", body)
		}
	}
}
