/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package spotit builds card collections for a "find the matching symbol"
// game, where any two cards should share exactly one symbol.
//
// The collection is built with a randomized search rather than a finite
// projective plane, so any number of symbols can be used. When the search
// yields too few cards, a relaxed construction takes over, which only
// guarantees that neighbouring cards overlap. Callers always get playable
// cards, but a pair from a relaxed deck may share zero or several symbols.
package spotit

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"sync"
)

// Card is the set of symbols printed on one card. Order carries no meaning.
type Card []string

func (c Card) has(symbol string) bool {
	return slices.Contains(c, symbol)
}

// Config controls deck construction.
type Config struct {
	CardSize       int // symbols per card
	TargetCards    int // strict construction stops once this many cards exist
	MaxAttempts    int // candidate cards tried by the strict construction
	MinStrictCards int // fewer strict cards than this switches to the relaxed construction
	FallbackCards  int // cards built by the relaxed construction
	PairAttempts   int // random draws TwoCards makes before synthesizing a pair

	// Rand is the source for every random choice the deck makes. A nil
	// Rand is replaced by a source seeded from crypto/rand.
	Rand *rand.Rand
}

func DefaultConfig() Config {
	return Config{
		CardSize:       8,
		TargetCards:    30,
		MaxAttempts:    1000,
		MinStrictCards: 10,
		FallbackCards:  20,
		PairAttempts:   100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CardSize <= 0 {
		c.CardSize = def.CardSize
	}
	if c.TargetCards <= 0 {
		c.TargetCards = def.TargetCards
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.MinStrictCards <= 0 {
		c.MinStrictCards = def.MinStrictCards
	}
	if c.FallbackCards <= 0 {
		c.FallbackCards = def.FallbackCards
	}
	if c.PairAttempts <= 0 {
		c.PairAttempts = def.PairAttempts
	}
	if c.Rand == nil {
		c.Rand = newRand()
	}
	return c
}

// Deck is a card collection built once for a game session. The collection
// never changes after New returns, so a Deck may be shared between
// goroutines.
type Deck struct {
	symbols      []string
	cardSize     int
	pairAttempts int
	cards        []Card
	relaxed      bool

	mu  sync.Mutex // guards rng
	rng *rand.Rand
}

// New builds a deck of cards holding cfg.CardSize symbols each, drawn from
// symbols. Repeated labels are counted once.
func New(symbols []string, cfg Config) (*Deck, error) {
	cfg = cfg.withDefaults()

	universe := distinct(symbols)
	if len(universe) < cfg.CardSize {
		return nil, &InsufficientSymbolsError{Required: cfg.CardSize, Actual: len(universe)}
	}

	d := &Deck{
		symbols:      universe,
		cardSize:     cfg.CardSize,
		pairAttempts: cfg.PairAttempts,
		rng:          cfg.Rand,
	}

	d.cards = d.strictCards(cfg.TargetCards, cfg.MaxAttempts)
	if len(d.cards) < cfg.MinStrictCards {
		d.cards = d.relaxedCards(cfg.FallbackCards)
		d.relaxed = true
	}

	return d, nil
}

// Len returns the number of cards in the deck.
func (d *Deck) Len() int {
	return len(d.cards)
}

func (d *Deck) CardSize() int {
	return d.cardSize
}

// Relaxed reports whether the deck came from the relaxed construction, in
// which only consecutive cards are known to overlap.
func (d *Deck) Relaxed() bool {
	return d.relaxed
}

// Cards returns a copy of the collection.
func (d *Deck) Cards() []Card {
	out := make([]Card, len(d.cards))
	for i, c := range d.cards {
		out[i] = slices.Clone(c)
	}
	return out
}

// strictCards grows the collection one validated candidate at a time. Each
// candidate borrows one free symbol from every existing card and is kept
// only if it ends up with exactly cardSize symbols and meets every existing
// card exactly once.
func (d *Deck) strictCards(target, maxAttempts int) []Card {
	shuffled := d.shuffled()

	cards := []Card{slices.Clone(shuffled[:d.cardSize])}

	for attempt := 0; attempt < maxAttempts && len(cards) < target; attempt++ {
		candidate := make(Card, 0, d.cardSize)

		for _, existing := range cards {
			free := without(existing, candidate)
			if len(free) == 0 {
				continue
			}
			candidate = append(candidate, free[d.rng.IntN(len(free))])
		}

		if missing := d.cardSize - len(candidate); missing > 0 {
			unused := without(shuffled, candidate)
			if len(unused) >= missing {
				candidate = append(candidate, d.sample(unused, missing)...)
			}
		}

		if len(candidate) == d.cardSize && meetsEachOnce(candidate, cards) {
			cards = append(cards, candidate)
		}
	}

	return cards
}

// relaxedCards chains cards so that each one repeats a single symbol of its
// predecessor. Nothing is promised about cards further apart. A card equal
// to one already built is dropped.
func (d *Deck) relaxedCards(n int) []Card {
	shuffled := d.shuffled()

	cards := make([]Card, 0, n)
	for range n {
		card := make(Card, 0, d.cardSize)
		if len(cards) > 0 {
			prev := cards[len(cards)-1]
			card = append(card, prev[d.rng.IntN(len(prev))])
		}

		card = d.fill(card, shuffled)

		if !slices.ContainsFunc(cards, func(c Card) bool { return sameCard(c, card) }) {
			cards = append(cards, card)
		}
	}

	return cards
}

// TwoCards draws two distinct cards that share exactly one symbol. When
// no such pair turns up within the attempt budget, the second card is
// synthesized around one symbol of the first. The synthesized card is not
// added to the deck.
func (d *Deck) TwoCards() (Card, Card, error) {
	if len(d.cards) < 2 {
		return nil, nil, ErrInsufficientCards
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for range d.pairAttempts {
		i := d.rng.IntN(len(d.cards))
		j := d.rng.IntN(len(d.cards) - 1)
		if j >= i {
			j++
		}

		a, b := d.cards[i], d.cards[j]
		if overlap(a, b) == 1 {
			return slices.Clone(a), slices.Clone(b), nil
		}
	}

	a := d.cards[d.rng.IntN(len(d.cards))]
	shared := a[d.rng.IntN(len(a))]

	b := d.fill(Card{shared}, without(d.symbols, a))

	return slices.Clone(a), b, nil
}

// FindMatch returns the symbol two cards share. See Match.
func (d *Deck) FindMatch(a, b []string) (string, bool) {
	return Match(a, b)
}

// Match returns the one symbol present on both cards. It reports false when
// the cards share no symbol, or more than one, since neither has a single
// right answer.
func Match(a, b []string) (string, bool) {
	onA := make(map[string]struct{}, len(a))
	for _, s := range a {
		onA[s] = struct{}{}
	}

	var match string
	shared := 0
	for _, s := range distinct(b) {
		if _, ok := onA[s]; ok {
			match = s
			shared++
		}
	}

	if shared != 1 {
		return "", false
	}
	return match, true
}

// fill tops card up to cardSize, first without replacement from pool and,
// once pool runs dry, with replacement from the whole universe.
func (d *Deck) fill(card Card, pool []string) Card {
	missing := d.cardSize - len(card)
	if missing <= 0 {
		return card
	}

	avail := without(pool, card)
	if len(avail) >= missing {
		return append(card, d.sample(avail, missing)...)
	}

	card = append(card, avail...)
	for len(card) < d.cardSize {
		s := d.symbols[d.rng.IntN(len(d.symbols))]
		if !card.has(s) {
			card = append(card, s)
		}
	}

	return card
}

func (d *Deck) shuffled() []string {
	out := slices.Clone(d.symbols)
	d.rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// sample picks n distinct elements of pool uniformly at random.
func (d *Deck) sample(pool []string, n int) []string {
	picked := slices.Clone(pool)
	for i := range n {
		j := i + d.rng.IntN(len(picked)-i)
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked[:n]
}

func without(src []string, exclude Card) []string {
	out := make([]string, 0, len(src))
	for _, s := range src {
		if !exclude.has(s) {
			out = append(out, s)
		}
	}
	return out
}

func overlap(a, b Card) int {
	n := 0
	for _, s := range a {
		if b.has(s) {
			n++
		}
	}
	return n
}

func meetsEachOnce(candidate Card, cards []Card) bool {
	for _, c := range cards {
		if overlap(candidate, c) != 1 {
			return false
		}
	}
	return true
}

func sameCard(a, b Card) bool {
	return len(a) == len(b) && overlap(a, b) == len(a)
}

func distinct(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func newRand() *rand.Rand {
	var seed [16]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(seed[:8]),
		binary.LittleEndian.Uint64(seed[8:]),
	))
}
