// Package llamarunner - Bildkontext
//
// Dieses Modul enthält:
// - ImageContext: Projektor (mtmd) mit Cache der zuletzt eingebetteten Bilder
// - EncodeImage: Bild-Bytes zu Embedding-Zeilen, implementiert vlm.ImageEncoder
package llamarunner

import (
	"errors"
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"
	"time"

	"github.com/7blacky7/omnivlm/vlm"
	"github.com/ollama/ollama/llama"
)

const imageCacheSize = 4

type ImageContext struct {
	// mu muss beim Einbetten und beim Zugriff auf den Cache gehalten werden
	mu sync.Mutex

	mtmd *llama.MtmdContext
	lc   *llama.Context

	// Cache von Bild-Hash zu Embedding
	images    []imageCache
	imageHash maphash.Hash

	closed bool
}

func NewImageContext(llamaContext *llama.Context, modelPath string) (*ImageContext, error) {
	if modelPath == "" {
		return nil, errors.New("no projector model given")
	}

	mtmd, err := llama.NewMtmdContext(llamaContext, modelPath)
	if err != nil {
		return nil, err
	}

	return &ImageContext{
		mtmd:   mtmd,
		lc:     llamaContext,
		images: make([]imageCache, imageCacheSize),
	}, nil
}

// Close gibt den Projektor frei. Mehrfache Aufrufe sind erlaubt.
func (c *ImageContext) Close() {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if c.mtmd != nil {
		c.mtmd.Free()
	}
	c.images = nil
}

// EncodeImage bettet ein Bild ein. Text-Chunks des Projektors (z.B. Bildrahmen-Tokens)
// werden als Tokens übernommen, Bild-Chunks als Embedding-Zeilen.
func (c *ImageContext) EncodeImage(data []byte) (*vlm.ImageEmbed, error) {
	if len(data) == 0 {
		return nil, errors.New("received zero length image")
	}

	hash := c.hashImage(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, vlm.ErrClosed
	}

	inputs, err := c.findImage(hash)
	if err != nil {
		t := time.Now()

		chunks, err := c.mtmd.MultimodalTokenize(c.lc, data)
		if err != nil {
			return nil, fmt.Errorf("failed to embed image: %w", err)
		}

		inputs = chunksToInputs(chunks)
		slog.Debug("image embedded", "positions", len(inputs), "duration", time.Since(t))

		c.addImage(hash, inputs)
	}

	// Die Zeilen gehören dem Cache, Release muss nichts freigeben
	return vlm.NewImageEmbed(inputs, nil), nil
}

func chunksToInputs(chunks []llama.MtmdChunk) []vlm.Input {
	var inputs []vlm.Input
	for _, chunk := range chunks {
		if chunk.Embed != nil {
			inputs = append(inputs, vlm.Input{Embed: chunk.Embed})
			continue
		}

		for _, t := range chunk.Tokens {
			inputs = append(inputs, vlm.Input{Token: t})
		}
	}
	return inputs
}

type imageCache struct {
	key      uint64
	val      []vlm.Input
	lastUsed time.Time
}

func (c *ImageContext) hashImage(image []byte) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.imageHash.Reset()
	_, _ = c.imageHash.Write(image)
	return c.imageHash.Sum64()
}

var errImageNotFound = errors.New("image not found in cache")

func (c *ImageContext) findImage(hash uint64) ([]vlm.Input, error) {
	for i := range c.images {
		if c.images[i].val != nil && c.images[i].key == hash {
			slog.Debug("loading image embeddings from cache", "entry", i)
			c.images[i].lastUsed = time.Now()
			return c.images[i].val, nil
		}
	}

	return nil, errImageNotFound
}

func (c *ImageContext) addImage(hash uint64, embed []vlm.Input) {
	best := time.Now()
	var bestImage int

	for i := range c.images {
		if c.images[i].key == hash {
			bestImage = i
			break
		}

		if c.images[i].lastUsed.Compare(best) < 0 {
			best = c.images[i].lastUsed
			bestImage = i
		}
	}

	slog.Debug("storing image embeddings in cache", "entry", bestImage, "used", c.images[bestImage].lastUsed)
	c.images[bestImage].key = hash
	c.images[bestImage].val = embed
	c.images[bestImage].lastUsed = time.Now()
}

var _ vlm.ImageEncoder = (*ImageContext)(nil)
