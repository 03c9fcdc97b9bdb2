package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign вычисляет HMAC-SHA256 сообщения и возвращает его в hex.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentSignatureMessage возвращает строку, которую Razorpay подписывает при завершении оплаты.
func PaymentSignatureMessage(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

// VerifyPaymentSignature проверяет подпись, полученную клиентом после оплаты.
func VerifyPaymentSignature(secret, orderID, paymentID, signature string) bool {
	return verify(secret, PaymentSignatureMessage(orderID, paymentID), signature)
}

// VerifyWebhookSignature проверяет заголовок x-razorpay-signature по сырому телу запроса.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	return verify(secret, body, signature)
}

func verify(secret string, message []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(got, mac.Sum(nil))
}
