// Package admin serves the HTTP control surface of a running host:
//
//	GET  /status          executor state, scheduler snapshot, goroutine counters
//	POST /pause           gate the continuous loop
//	POST /resume          set running and (re)start the loop
//	POST /tick[?drain=1]  run one tick now; a task error answers 500
//	POST /trigger         fire the executor's signal
//	GET  /runs[?limit=n]  run history, newest first
//
// Every reply uses the same JSON envelope (see Response).
package admin
