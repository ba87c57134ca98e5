package handler

import (
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/scribeflow/api/pkg/response"
)

// ChunkHandler serves chunk audio files to workers.
type ChunkHandler struct {
	chunkDir string
}

func NewChunkHandler(chunkDir string) *ChunkHandler {
	return &ChunkHandler{chunkDir: chunkDir}
}

// Download handles GET /api/chunks/:filename. The filename is reduced
// to its base so path traversal cannot escape the chunk directory.
func (h *ChunkHandler) Download(c *fiber.Ctx) error {
	name := filepath.Base(c.Params("filename"))
	if name == "." || name == string(filepath.Separator) {
		return response.ValidationError(c, "Invalid filename", nil)
	}
	path := filepath.Join(h.chunkDir, name)
	if _, err := os.Stat(path); err != nil {
		return response.NotFound(c, "Chunk file not found")
	}
	return c.SendFile(path)
}
