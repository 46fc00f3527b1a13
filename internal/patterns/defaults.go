package patterns

// DefaultSet returns the stock pattern set used to seed a fresh install.
// Covers the common MOEX tickers and the Russian/English trading slang seen
// in public trading channels. Admins extend it through the API afterwards.
func DefaultSet() []Pattern {
	mk := func(name string, cat Category, expr string, prio int, desc string) Pattern {
		return Pattern{Name: name, Category: cat, Expression: expr, Priority: prio, IsActive: true, Description: desc}
	}

	return []Pattern{
		// Tickers: Name is the canonical symbol, expression lists spellings.
		mk("SBER", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:сбер(?:банк)?(?:а|у|е|ом)?|sber)(?:$|[^\p{L}])`, 100, "Sberbank"),
		mk("GAZP", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:газпром(?:а|у|е|ом)?|gazp|газик)(?:$|[^\p{L}])`, 100, "Gazprom"),
		mk("LKOH", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:лукойл(?:а|у|е|ом)?|lkoh)(?:$|[^\p{L}])`, 100, "Lukoil"),
		mk("YDEX", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:яндекс(?:а|у|е|ом)?|ydex|yndx)(?:$|[^\p{L}])`, 100, "Yandex"),
		mk("VTBR", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:втб|vtbr)(?:$|[^\p{L}])`, 90, "VTB"),
		mk("ROSN", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:роснефт(?:ь|и|ью)|rosn)(?:$|[^\p{L}])`, 90, "Rosneft"),
		mk("MGNT", CategoryTicker, `(?i)(?:^|[^\p{L}$])(?:магнит(?:а|у|е|ом)?|mgnt)(?:$|[^\p{L}])`, 80, "Magnit"),

		// Direction: long
		mk("long-word", CategoryLong, `(?i)(?:лонг|long|покупк|докупа|набира|лонгую)`, 100, "explicit long"),
		mk("long-emoji", CategoryLong, `(?:🚀|📈|⬆️)`, 50, "bullish emoji"),

		// Direction: short
		mk("short-word", CategoryShort, `(?i)(?:шорт|short|продаж|шорчу|встаю в шорт)`, 100, "explicit short"),
		mk("short-emoji", CategoryShort, `(?:📉|⬇️)`, 50, "bearish emoji"),

		// Exit operations
		mk("exit-word", CategoryExit, `(?i)(?:закрыва|выхожу|фиксиру|closing|close позици|крою)`, 100, "position exit"),

		// Generic trading keywords
		mk("trade-word", CategoryKeyword, `(?i)(?:вход|сделк|позици|тейк|стоп|цел[ьи]|entry|сигнал)`, 100, "trading context"),

		// Author tag, e.g. "#trader_vasya" or "от Алексея:"
		mk("author-tag", CategoryAuthor, `#([A-Za-zА-Яа-я0-9_]{3,32})`, 100, "author hashtag"),

		// Prices. Capture group 1 is the decimal value.
		mk("target-price", CategoryTargetPrice, `(?i)(?:по|вход|цена входа|от|@)\s*(\d+(?:[.,]\d+)?)`, 100, "entry/target price"),
		mk("stop-price", CategoryStopPrice, `(?i)(?:стоп(?:-лосс)?|sl|stop)\s*[:\s]*(\d+(?:[.,]\d+)?)`, 100, "stop price"),
		mk("take-price", CategoryTakePrice, `(?i)(?:тейк(?:-профит)?|tp|take|цел[ьи])\s*[:\s]*(\d+(?:[.,]\d+)?)`, 100, "take price"),

		// Garbage: ads, referral spam, bare links
		mk("garbage-ads", CategoryGarbage, `(?i)(?:реклама|промокод|розыгрыш|подпишись|airdrop|казино)`, 100, "ad spam"),
		mk("garbage-link-only", CategoryGarbage, `(?i)^\s*https?://\S+\s*$`, 90, "bare link"),
	}
}
