package museproto

import "sync"

// maxPendingSequences bounds how many incomplete packet groups are kept.
const maxPendingSequences = 16

// EEGFrame is one EEG sample across the four scalp electrodes.
type EEGFrame struct {
	Sequence uint16
	Index    int // sample index within the packet
	TP9      float64
	AF7      float64
	AF8      float64
	TP10     float64
}

// PPGFrame is one optical sample across the three light channels.
type PPGFrame struct {
	Sequence uint16
	Index    int
	Ambient  float64
	Infrared float64
	Red      float64
}

type pendingGroup struct {
	have    uint8
	samples [][]float64
}

// joiner collects per-channel packets that share a sequence number until
// every channel is present.
type joiner struct {
	mu       sync.Mutex
	channels int
	pending  map[uint16]*pendingGroup
	order    []uint16
}

func newJoiner(channels int) *joiner {
	return &joiner{channels: channels, pending: make(map[uint16]*pendingGroup)}
}

// add stores samples for channel ch and returns the complete group, if any
func (j *joiner) add(ch int, seq uint16, samples []float64) [][]float64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	g, ok := j.pending[seq]
	if !ok {
		g = &pendingGroup{samples: make([][]float64, j.channels)}
		j.pending[seq] = g
		j.order = append(j.order, seq)
		j.evict()
	}
	g.samples[ch] = samples
	g.have |= 1 << uint(ch)

	if g.have != 1<<uint(j.channels)-1 {
		return nil
	}

	delete(j.pending, seq)
	j.removeOrder(seq)
	return g.samples
}

func (j *joiner) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *joiner) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = make(map[uint16]*pendingGroup)
	j.order = nil
}

func (j *joiner) evict() {
	for len(j.order) > maxPendingSequences {
		oldest := j.order[0]
		j.order = j.order[1:]
		delete(j.pending, oldest)
	}
}

func (j *joiner) removeOrder(seq uint16) {
	for i, s := range j.order {
		if s == seq {
			j.order = append(j.order[:i], j.order[i+1:]...)
			return
		}
	}
}

// EEGAssembler joins the per-electrode packets that share a sequence number
// into per-sample frames. Electrodes arrive as separate notifications, in
// any order.
type EEGAssembler struct {
	j *joiner
}

// NewEEGAssembler creates an empty assembler
func NewEEGAssembler() *EEGAssembler {
	return &EEGAssembler{j: newJoiner(4)}
}

// Add records one electrode packet. When all four scalp electrodes for the
// packet's sequence are present it returns their frames; otherwise nil.
// AUX packets are ignored.
func (a *EEGAssembler) Add(e Electrode, p EEGPacket) []EEGFrame {
	if e < TP9 || e > TP10 {
		return nil
	}
	samples := p.Samples
	group := a.j.add(int(e), p.Sequence, samples[:])
	if group == nil {
		return nil
	}

	frames := make([]EEGFrame, EEGSamplesPerPacket)
	for i := range frames {
		frames[i] = EEGFrame{
			Sequence: p.Sequence,
			Index:    i,
			TP9:      group[TP9][i],
			AF7:      group[AF7][i],
			AF8:      group[AF8][i],
			TP10:     group[TP10][i],
		}
	}
	return frames
}

// Pending returns the number of incomplete groups
func (a *EEGAssembler) Pending() int { return a.j.size() }

// Reset drops every incomplete group
func (a *EEGAssembler) Reset() { a.j.reset() }

// PPGAssembler joins the three optical channel packets of one sequence.
type PPGAssembler struct {
	j *joiner
}

// NewPPGAssembler creates an empty assembler
func NewPPGAssembler() *PPGAssembler {
	return &PPGAssembler{j: newJoiner(3)}
}

// Add records one optical packet and returns the frames once all three
// channels of its sequence are present.
func (a *PPGAssembler) Add(ch PPGChannel, p PPGPacket) []PPGFrame {
	if ch < PPGAmbient || ch > PPGRed {
		return nil
	}
	samples := p.Samples
	group := a.j.add(int(ch), p.Sequence, samples[:])
	if group == nil {
		return nil
	}

	frames := make([]PPGFrame, PPGSamplesPerPacket)
	for i := range frames {
		frames[i] = PPGFrame{
			Sequence: p.Sequence,
			Index:    i,
			Ambient:  group[PPGAmbient][i],
			Infrared: group[PPGInfrared][i],
			Red:      group[PPGRed][i],
		}
	}
	return frames
}

// Pending returns the number of incomplete groups
func (a *PPGAssembler) Pending() int { return a.j.size() }

// Reset drops every incomplete group
func (a *PPGAssembler) Reset() { a.j.reset() }
