package conversation

import (
	"strings"
	"sync"
)

// Block is one paragraph of the conversation view. Clip IDs reference
// exported audio attached to the block.
type Block struct {
	ID        int      `json:"id"`
	Text      string   `json:"text,omitempty"`
	ClipIDs   []string `json:"clip_ids,omitempty"`
	Separator bool     `json:"separator,omitempty"`
}

// Transcript is the ordered, append-only conversation view.
type Transcript struct {
	mu     sync.Mutex
	blocks []Block
	limit  int
}

// NewTranscript keeps at most limit blocks, dropping the oldest. A limit of
// zero keeps everything.
func NewTranscript(limit int) *Transcript {
	return &Transcript{limit: limit}
}

// NewBlock appends a text block and returns its ID.
func (t *Transcript) NewBlock(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.push(Block{Text: text})
}

// Append adds text to the last text block, creating one when the view is
// empty or ends in a separator.
func (t *Transcript) Append(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.blocks); n > 0 && !t.blocks[n-1].Separator {
		t.blocks[n-1].Text += text
		return
	}
	t.push(Block{Text: text})
}

// AppendTo adds text to the block with the given ID. It reports false when
// the block is gone.
func (t *Transcript) AppendTo(id int, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.find(id)
	if b == nil {
		return false
	}
	b.Text += text
	return true
}

// AttachClip links a clip to the block with the given ID, or to a new block
// when id is negative or no longer present. It returns the block ID used.
func (t *Transcript) AttachClip(id int, clipID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b := t.find(id); b != nil {
		b.ClipIDs = append(b.ClipIDs, clipID)
		return b.ID
	}
	return t.push(Block{ClipIDs: []string{clipID}})
}

func (t *Transcript) Separator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.push(Block{Separator: true})
}

// Blocks returns a copy of the view.
func (t *Transcript) Blocks() []Block {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Block, len(t.blocks))
	for i, b := range t.blocks {
		b.ClipIDs = append([]string(nil), b.ClipIDs...)
		out[i] = b
	}
	return out
}

// String renders the view as plain text, one block per line.
func (t *Transcript) String() string {
	var sb strings.Builder
	for _, b := range t.Blocks() {
		if b.Separator {
			sb.WriteString("----\n")
			continue
		}
		sb.WriteString(b.Text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (t *Transcript) push(b Block) int {
	next := 0
	if n := len(t.blocks); n > 0 {
		next = t.blocks[n-1].ID + 1
	}
	b.ID = next
	t.blocks = append(t.blocks, b)
	if t.limit > 0 && len(t.blocks) > t.limit {
		t.blocks = append([]Block(nil), t.blocks[len(t.blocks)-t.limit:]...)
	}
	return b.ID
}

func (t *Transcript) find(id int) *Block {
	if id < 0 {
		return nil
	}
	for i := len(t.blocks) - 1; i >= 0; i-- {
		if t.blocks[i].ID == id {
			return &t.blocks[i]
		}
		if t.blocks[i].ID < id {
			break
		}
	}
	return nil
}
