package email

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractOTPFromSubject(t *testing.T) {
	require.Equal(t, "280296", extractOTPFromSubject("Your Axiom security code is 280296"))
	require.Equal(t, "", extractOTPFromSubject("Re: your invoice 280296"))
	require.Equal(t, "", extractOTPFromSubject("Your Axiom security code is 1234"))
}

func TestExtractOTPPlainText(t *testing.T) {
	require.Equal(t, "280296", ExtractOTP("Your Axiom security code is 280296"))
	require.Equal(t, "417233", ExtractOTP("Your Axiom security code is: 417233"))
	require.Equal(t, "552901", ExtractOTP("Your security code is 552901"))
	require.Equal(t, "663412", ExtractOTP("Use this security code: 663412 to continue"))
}

func TestExtractOTPHTML(t *testing.T) {
	require.Equal(t, "123456", ExtractOTP(`<p>Here is your code</p><strong>123456</strong>`))
	require.Equal(t, "654321", ExtractOTP(`<b>654321</b>`))
	require.Equal(t, "111222", ExtractOTP(`<span style="font-size:24px">111222</span>`))
}

func TestExtractOTPBareFallbackNeedsKeyword(t *testing.T) {
	require.Equal(t, "998877", ExtractOTP("Your Axiom login attempt. Code 998877 expires soon."))
	require.Equal(t, "", ExtractOTP("Order 998877 has shipped"))
}

func TestExtractOTPIgnoresNonSixDigitRuns(t *testing.T) {
	require.Equal(t, "", ExtractOTP("security code 12345 is too short"))
	require.Equal(t, "", ExtractOTP("security code 1234567 is too long"))
	require.Equal(t, "", ExtractOTP("Your Axiom security code is 28029612"))
	require.Equal(t, "", extractOTPFromSubject("Your Axiom security code is 2802961"))
}

func TestExtractOTPEmptyBody(t *testing.T) {
	require.Equal(t, "", ExtractOTP(""))
}

func TestNewFetcherFromEnv(t *testing.T) {
	t.Setenv("INBOX_LV_EMAIL", "")
	t.Setenv("INBOX_LV_PASSWORD", "")
	_, err := NewFetcherFromEnv()
	require.Error(t, err)

	t.Setenv("INBOX_LV_EMAIL", "otp@inbox.lv")
	t.Setenv("INBOX_LV_PASSWORD", "imap-pass")
	f, err := NewFetcherFromEnv()
	require.NoError(t, err)
	require.Equal(t, "mail.inbox.lv:993", f.addr)
	require.Equal(t, "otp@inbox.lv", f.email)
}
