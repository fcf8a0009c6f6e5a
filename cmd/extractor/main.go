// Binance market-data extractor CLI.
//
// Usage:
//
//	extractor extract --interval 1h --symbols BTCUSDT,ETHUSDT --workers 8
//	extractor backfill --interval 15m --lookback 720h
//	extractor funding --symbols BTCUSDT
//	extractor trades --symbols BTCUSDT --lookback 24h
//
// Configuration comes from a YAML file (--config), EXTRACTOR_* environment
// variables and flags, flags winning.
package main

import "os"

func main() {
	os.Exit(run())
}
