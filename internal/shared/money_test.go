package shared

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want Money
	}{
		{"100", 10000},
		{"100.5", 10050},
		{"100.50", 10050},
		{" 0.01 ", 1},
		{"-2.25", -225},
		{"9999999999999.99", 999_999_999_999_999},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseMoneyRejectsMalformedAmounts(t *testing.T) {
	for _, in := range []string{
		"",
		"-",
		".5",
		"1.",
		"1.-5",
		"1.+5",
		"+1",
		"--1",
		"1.234",
		"1e3",
		"1,50",
		"abc",
		"10000000000000",
		"184467440737095517",
		"99999999999999999999",
	} {
		_, err := ParseMoney(in)
		require.ErrorIs(t, err, ErrInvalidAmount, in)
		require.Equal(t, KindValidationFailure, KindOf(err), in)
	}
}

func TestMoneyUnmarshalJSONRejectsOverflow(t *testing.T) {
	var body struct {
		Amount Money `json:"amount"`
	}
	err := json.Unmarshal([]byte(`{"amount":184467440737095517}`), &body)
	require.Error(t, err)
	require.Zero(t, body.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.30"}`), &body))
	require.Equal(t, Money(1230), body.Amount)
}
