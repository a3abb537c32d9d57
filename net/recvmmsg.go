package net

import (
	"kcore/errors"
	"kcore/timer"
	"kcore/vfs"
)

// RecvMMsgResult is one datagram landed by RecvMMsg.
type RecvMMsgResult struct {
	N    int
	From Endpoint
}

// RecvMMsg implements recvmmsg(2)'s batched-receive semantics from
// §4.13: the first of up to len(bufs) messages may block up to timeout
// jiffies; every message after that is forced non-blocking (WAITFORONE),
// so the loop stops the instant one would block rather than waiting
// again. A receive error after at least one message has already landed
// is swallowed — partial success returns the messages received, not the
// error — but an error on the very first message is returned directly.
// The jiffies remaining from timeout are returned for the caller to
// write back into the user's timespec.
func RecvMMsg(sock Socket, bufs [][]byte, timeout timer.Jiffies) ([]RecvMMsgResult, timer.Jiffies, error) {
	var results []RecvMMsgResult
	remaining := timeout

	for i, buf := range bufs {
		if i == 0 {
			_, rem, err := Poll([]*PollEntry{{Socket: sock, Events: vfs.PollIn}}, timeout)
			remaining = rem
			if err != nil {
				return results, remaining, err
			}
			if sock.Poll(vfs.PollIn)&vfs.PollIn == 0 {
				// Timed out with nothing ever arriving.
				break
			}
		} else {
			if sock.Poll(vfs.PollIn)&vfs.PollIn == 0 {
				break
			}
		}

		n, from, err := sock.RecvFrom(buf)
		if err != nil {
			if errors.IsKind(err, errors.Again) {
				break
			}
			if len(results) > 0 {
				return results, remaining, nil
			}
			return results, remaining, err
		}
		results = append(results, RecvMMsgResult{N: n, From: from})
	}
	return results, remaining, nil
}
