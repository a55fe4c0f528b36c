package room

import "github.com/pion/rtp"

// lossCounter считает пропуски в sequence number входящего RTP
type lossCounter struct {
	started  bool
	last     uint16
	received uint64
	lost     uint64
}

func (l *lossCounter) observe(pkt *rtp.Packet) {
	l.received++

	seq := pkt.SequenceNumber
	if !l.started {
		l.started = true
		l.last = seq
		return
	}

	// uint16 разность корректно переживает wraparound
	gap := seq - l.last
	switch {
	case gap == 0 || gap > 1<<15:
		// дубликат или переупорядоченный пакет
		return
	case gap > 1:
		l.lost += uint64(gap - 1)
	}

	l.last = seq
}
