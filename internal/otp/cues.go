package otp

// Cue lexicons shared by the prompt builder and the heuristic gate.
// Positive cues mark a number as a verification code; negative cues mark
// it as something else entirely (order numbers, bookings, tracking).
// These are distinct from the rule-set keyword lists, which only feed
// the local scorer.

var positiveCues = map[Language][]string{
	LangChinese: {"验证码", "动态码", "安全码", "校验码", "一次性密码"},
	LangEnglish: {"verification code", "otp", "one-time password", "security code", "auth code", "pin"},
	LangSpanish: {"código de verificación", "otp", "código de seguridad", "clave temporal"},
	LangItalian: {"codice di verifica", "otp", "codice di sicurezza", "pin"},
}

var negativeCues = map[Language][]string{
	LangChinese: {"订单号", "预订号", "航班号", "票号", "交易号", "账号", "参考号", "预定号"},
	LangEnglish: {"order number", "booking", "reservation", "ticket", "invoice", "receipt", "account number", "tracking", "reference number"},
	LangSpanish: {"número de pedido", "reserva", "boleto", "factura", "recibo", "número de cuenta", "número de referencia"},
	LangItalian: {"numero d'ordine", "prenotazione", "biglietto", "fattura", "ricevuta", "numero di conto", "numero di riferimento"},
}

// Cues returns the positive and negative cue lists for lang. Unsupported
// or auto languages fall back to the English lists, which double as the
// language-agnostic set.
func Cues(lang Language) (positive, negative []string) {
	pos, ok := positiveCues[lang]
	if !ok {
		pos = positiveCues[LangEnglish]
	}
	neg, ok := negativeCues[lang]
	if !ok {
		neg = negativeCues[LangEnglish]
	}
	return pos, neg
}
