// Package logx configures cartobot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional plain-text mirror (the buffered daily log) that receives the
//     same records without colors
package logx
