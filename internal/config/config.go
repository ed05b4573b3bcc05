// Package config supplies the resolved configuration values the chat core is
// constructed with. Defaults match the shipped application; a JSON file can
// override them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Application versions.
const (
	ServerVersion = "1.0.2"
	ClientVersion = "1.0.3"
)

// DefaultPort is the port the server listens on and clients dial by default.
const DefaultPort = 50000

// ServerConfig holds the server-side tunables. All values are read-only once
// the server is constructed.
type ServerConfig struct {
	// ListenAddr is the TCP address the server binds to.
	ListenAddr string `json:"listen_addr"`
	// MaxClients is the roster capacity; further admissions are denied.
	MaxClients int `json:"max_clients"`
	// MaxMessageLength bounds one logical frame to a single read buffer.
	MaxMessageLength int `json:"max_message_length"`
}

// DefaultServerConfig returns the stock server configuration: port 50000,
// 5 clients, 1024-byte frames.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       fmt.Sprintf(":%d", DefaultPort),
		MaxClients:       5,
		MaxMessageLength: 1024,
	}
}

// LoadServerConfig reads a JSON config file over the defaults. Fields absent
// from the file keep their default values.
//
// Returns:
//   - The merged configuration, or an error if the file cannot be read or parsed
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config file: %w", err)
	}

	return cfg, nil
}

// ClientConfig holds the client-side tunables.
type ClientConfig struct {
	// ServerPort is the port the client dials when only a host is given.
	ServerPort int `json:"server_port"`
	// MaxMessageLength is the read ceiling for one frame.
	MaxMessageLength int `json:"max_message_length"`
	// MaxChatContent bounds the chat text the client will send.
	MaxChatContent int `json:"max_chat_content"`
	// MaxClientNameLength bounds the display name, validated before dialing.
	MaxClientNameLength int `json:"max_client_name_length"`
}

// DefaultClientConfig returns the stock client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerPort:          DefaultPort,
		MaxMessageLength:    1024,
		MaxChatContent:      900,
		MaxClientNameLength: 24,
	}
}

// LoadClientConfig reads a JSON config file over the defaults. Fields absent
// from the file keep their default values.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config file: %w", err)
	}

	return cfg, nil
}
