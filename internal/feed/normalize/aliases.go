package normalize

import "github.com/coachpo/feedgate/internal/domain/schema"

var accountFields = []binding[schema.AccountUpdate]{
	{[]string{"marginCoin", "coin", "ccy"}, func(u *schema.AccountUpdate) **string { return &u.Currency }},
	{[]string{"equity", "totalEq", "accountEquity", "usdtEquity"}, func(u *schema.AccountUpdate) **string { return &u.Equity }},
	{[]string{"available", "availEq", "availBal"}, func(u *schema.AccountUpdate) **string { return &u.Available }},
	{[]string{"frozen", "frozenBal", "locked"}, func(u *schema.AccountUpdate) **string { return &u.Frozen }},
	{[]string{"margin", "mgnRatio", "marginRatio"}, func(u *schema.AccountUpdate) **string { return &u.Margin }},
	{[]string{"unrealizedPL", "unrealisedPnl", "upl"}, func(u *schema.AccountUpdate) **string { return &u.UnrealizedPnL }},
	{[]string{"uTime", "updatedTime", "ts"}, func(u *schema.AccountUpdate) **string { return &u.UpdatedAt }},
}

var positionFields = []binding[schema.PositionUpdate]{
	{[]string{"symbol", "instId"}, func(u *schema.PositionUpdate) **string { return &u.Symbol }},
	{[]string{"holdSide", "posSide"}, func(u *schema.PositionUpdate) **string { return &u.Side }},
	{[]string{"total", "pos", "size"}, func(u *schema.PositionUpdate) **string { return &u.Size }},
	{[]string{"averageOpenPrice", "openPriceAvg", "avgPrice", "avgPx"}, func(u *schema.PositionUpdate) **string { return &u.EntryPrice }},
	{[]string{"markPrice", "markPx"}, func(u *schema.PositionUpdate) **string { return &u.MarkPrice }},
	{[]string{"unrealizedPL", "unrealisedPnl", "upl"}, func(u *schema.PositionUpdate) **string { return &u.UnrealizedPnL }},
	{[]string{"margin", "marginSize", "imr"}, func(u *schema.PositionUpdate) **string { return &u.Margin }},
	{[]string{"leverage", "lever"}, func(u *schema.PositionUpdate) **string { return &u.Leverage }},
	{[]string{"marginMode", "mgnMode"}, func(u *schema.PositionUpdate) **string { return &u.MarginMode }},
	{[]string{"liquidationPrice", "liqPx"}, func(u *schema.PositionUpdate) **string { return &u.LiquidationPrice }},
	{[]string{"uTime", "updatedTime", "ts"}, func(u *schema.PositionUpdate) **string { return &u.UpdatedAt }},
}

var orderFields = []binding[schema.OrderUpdate]{
	{[]string{"symbol", "instId"}, func(u *schema.OrderUpdate) **string { return &u.Symbol }},
	{[]string{"orderId", "ordId"}, func(u *schema.OrderUpdate) **string { return &u.OrderID }},
	{[]string{"clientOid", "clOrdId"}, func(u *schema.OrderUpdate) **string { return &u.ClientOrderID }},
	{[]string{"side"}, func(u *schema.OrderUpdate) **string { return &u.Side }},
	{[]string{"orderType", "ordType"}, func(u *schema.OrderUpdate) **string { return &u.OrderType }},
	{[]string{"size", "sz", "qty", "newSize"}, func(u *schema.OrderUpdate) **string { return &u.Size }},
	{[]string{"price", "px"}, func(u *schema.OrderUpdate) **string { return &u.Price }},
	{[]string{"accBaseVolume", "cumExecQty", "accFillSz", "baseVolume"}, func(u *schema.OrderUpdate) **string { return &u.FilledSize }},
	{[]string{"priceAvg", "avgPrice", "avgPx"}, func(u *schema.OrderUpdate) **string { return &u.AveragePrice }},
	{[]string{"status", "state", "orderStatus"}, func(u *schema.OrderUpdate) **string { return &u.Status }},
	{[]string{"uTime", "updatedTime", "cTime"}, func(u *schema.OrderUpdate) **string { return &u.UpdatedAt }},
}

var fillFields = []binding[schema.FillUpdate]{
	{[]string{"symbol", "instId"}, func(u *schema.FillUpdate) **string { return &u.Symbol }},
	{[]string{"orderId", "ordId"}, func(u *schema.FillUpdate) **string { return &u.OrderID }},
	{[]string{"tradeId", "execId", "fillId"}, func(u *schema.FillUpdate) **string { return &u.TradeID }},
	{[]string{"side"}, func(u *schema.FillUpdate) **string { return &u.Side }},
	{[]string{"size", "fillSz", "execQty", "baseVolume"}, func(u *schema.FillUpdate) **string { return &u.Size }},
	{[]string{"price", "fillPx", "execPrice", "priceAvg"}, func(u *schema.FillUpdate) **string { return &u.Price }},
	{[]string{"fee", "fillFee", "totalFee"}, func(u *schema.FillUpdate) **string { return &u.Fee }},
	{[]string{"feeCoin", "feeCcy"}, func(u *schema.FillUpdate) **string { return &u.FeeCurrency }},
	{[]string{"cTime", "fillTime", "ts"}, func(u *schema.FillUpdate) **string { return &u.Timestamp }},
}

var tickerFields = []binding[schema.TickerUpdate]{
	{[]string{"symbol", "instId"}, func(u *schema.TickerUpdate) **string { return &u.Symbol }},
	{[]string{"lastPrice", "lastPr", "price", "last"}, func(u *schema.TickerUpdate) **string { return &u.LastPrice }},
	{[]string{"bid1Price", "bidPr", "bidPx"}, func(u *schema.TickerUpdate) **string { return &u.BidPrice }},
	{[]string{"ask1Price", "askPr", "askPx"}, func(u *schema.TickerUpdate) **string { return &u.AskPrice }},
	{[]string{"highPrice24h", "high24h"}, func(u *schema.TickerUpdate) **string { return &u.High24h }},
	{[]string{"lowPrice24h", "low24h"}, func(u *schema.TickerUpdate) **string { return &u.Low24h }},
	{[]string{"change24h", "priceChange"}, func(u *schema.TickerUpdate) **string { return &u.Change24h }},
	{[]string{"price24hPcnt", "changeUtc24h", "priceChangePercent"}, func(u *schema.TickerUpdate) **string { return &u.ChangePercent24h }},
	{[]string{"volume24h", "baseVolume", "vol24h"}, func(u *schema.TickerUpdate) **string { return &u.Volume24h }},
	{[]string{"ts", "timestamp"}, func(u *schema.TickerUpdate) **string { return &u.Timestamp }},
}
