package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"
)

type ChatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type       string `json:"type"`
			Text       string `json:"text,omitempty"`
			InputAudio *struct {
				Data   string `json:"data"`
				Format string `json:"format"`
			} `json:"input_audio,omitempty"`
		} `json:"content"`
	} `json:"messages"`
}

type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message Message `json:"message"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var failFormats map[string]bool

func openaiHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing request", http.StatusBadRequest)
		return
	}

	// Find the audio content part
	var audioFormat string
	var audioSize int
	var prompt string
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			if part.Type == "text" {
				prompt = part.Text
			}
			if part.Type == "input_audio" && part.InputAudio != nil {
				audioFormat = part.InputAudio.Format
				decoded, err := base64.StdEncoding.DecodeString(part.InputAudio.Data)
				if err != nil {
					http.Error(w, "Invalid base64 audio payload", http.StatusBadRequest)
					return
				}
				audioSize = len(decoded)
			}
		}
	}

	if audioFormat == "" {
		http.Error(w, "No input_audio content found", http.StatusBadRequest)
		return
	}

	log.Printf("🎤 STT REQUEST RECEIVED:")
	log.Printf("    Model: %s", req.Model)
	log.Printf("    Format: %s", audioFormat)
	log.Printf("    Audio Size: %d bytes", audioSize)
	log.Printf("    Prompt: %s", prompt)

	// Simulate format rejection for fallback testing
	if failFormats[audioFormat] {
		log.Printf("❌ REJECTING FORMAT: %s", audioFormat)
		http.Error(w, "Unsupported audio format: "+audioFormat, http.StatusUnprocessableEntity)
		return
	}

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	response := ChatResponse{
		Choices: []Choice{
			{Message: Message{
				Role:    "assistant",
				Content: "This is a test transcription of the submitted audio clip",
			}},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("✅ TRANSCRIPTION RESPONSE SENT (format=%s)", audioFormat)
	log.Println("---")
}

func main() {
	failList := flag.String("fail-formats", "", "Comma-separated formats to reject (tests fallback, e.g. wav,mp3)")
	flag.Parse()

	failFormats = make(map[string]bool)
	for _, f := range strings.Split(*failList, ",") {
		if f = strings.TrimSpace(f); f != "" {
			failFormats[f] = true
		}
	}

	http.HandleFunc("/openai", openaiHandler)

	port := ":9000"
	log.Printf("🚀 Test STT Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s/openai", port)
	if len(failFormats) > 0 {
		log.Printf("⚠️  Rejecting formats: %s", *failList)
	}
	log.Println("💡 Update your config to use: http://localhost:9000/openai")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
