package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"math/bits"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	defaultPort      = "8090"
	defaultAPIKey    = "similarity-scorer-secret-key"
	defaultLatencyMs = "20"
)

type CompareRequest struct {
	ImageA string `json:"image_a"`
	ImageB string `json:"image_b"`
}

type CompareResponse struct {
	Success         bool     `json:"success"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	Error           string   `json:"error,omitempty"`
	Model           string   `json:"model"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	apiKey    = getEnv("API_KEY", defaultAPIKey)
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/compare", handleCompare)

	log.Printf("🖼️  Mock Similarity Scorer starting on port %s", port)
	log.Printf("📝 API Key: %s", apiKey)
	log.Printf("⏱️  Simulated latency: %dms", latencyMs)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "similarity-scorer",
		"version": "1.0.0",
	})
}

func handleCompare(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)

	log.Printf("📥 Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	if r.Method != http.MethodPost {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if key := r.Header.Get("X-API-Key"); key != apiKey {
		sendError(w, "Missing or invalid X-API-Key header", http.StatusUnauthorized)
		return
	}

	var req CompareRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&req); err != nil {
		sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	hashA, err := averageHash(req.ImageA)
	if err != nil {
		sendFailure(w, "image_a: "+err.Error())
		return
	}
	hashB, err := averageHash(req.ImageB)
	if err != nil {
		sendFailure(w, "image_b: "+err.Error())
		return
	}

	// 64-bit average hashes; identical images score 1.0.
	score := 1 - float64(bits.OnesCount64(hashA^hashB))/64

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(CompareResponse{
		Success:         true,
		SimilarityScore: &score,
		Model:           "mock-ahash-8x8",
	})

	log.Printf("✅ Compared images -> %.3f", score)
}

// averageHash downsamples to 8x8 grayscale and sets one bit per pixel
// brighter than the mean.
func averageHash(encoded string) (uint64, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return 0, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}

	b := img.Bounds()
	var cells [64]float64
	var total float64
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			px := b.Min.X + (x*b.Dx()+b.Dx()/2)/8
			py := b.Min.Y + (y*b.Dy()+b.Dy()/2)/8
			r, g, bl, _ := img.At(px, py).RGBA()
			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)
			cells[y*8+x] = lum
			total += lum
		}
	}
	mean := total / 64

	var hash uint64
	for i, lum := range cells {
		if lum > mean {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

func sendFailure(w http.ResponseWriter, msg string) {
	log.Printf("⚠️  Rejected images: %s", msg)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	json.NewEncoder(w).Encode(CompareResponse{Success: false, Error: msg, Model: "mock-ahash-8x8"})
}

func sendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	n, err := strconv.Atoi(value)
	if err != nil {
		n, _ = strconv.Atoi(defaultValue)
	}
	return n
}
