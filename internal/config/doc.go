// Shelfwise - On-device game recommendation engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfwise

/*
Package config loads the shelfd configuration.

Configuration is layered with koanf v2. Later sources override earlier ones:

 1. Defaults: every component's DefaultConfig()
 2. YAML file: path from SHELFWISE_CONFIG, else shelfwise.yaml in the working
    directory, else /etc/shelfwise/shelfwise.yaml
 3. Environment: SHELFWISE_* variables listed in the mapping table

Only mapped environment variables are read; any other SHELFWISE_* variable is
ignored. Durations use Go syntax ("90s", "15m", "168h").

# Example file

	storage:
	  path: /var/lib/shelfwise
	logging:
	  level: debug
	  format: console
	embedding:
	  ollama:
	    url: http://127.0.0.1:11434
	    model: nomic-embed-text
	catalog:
	  sync_interval: 6h
	  source:
	    url: https://catalog.example.com
	ann:
	  top_k: 5000

# Common environment variables

	SHELFWISE_DATA_DIR            storage.path
	SHELFWISE_LIBRARY_FILE        storage.library_file
	SHELFWISE_HTTP_ADDR           server.host
	SHELFWISE_HTTP_PORT           server.port
	SHELFWISE_LOG_LEVEL           logging.level
	SHELFWISE_LOG_FORMAT          logging.format
	SHELFWISE_OLLAMA_URL          embedding.ollama.url
	SHELFWISE_OLLAMA_MODEL        embedding.ollama.model
	SHELFWISE_CATALOG_URL         catalog.source.url
	SHELFWISE_CATALOG_SYNC_INTERVAL catalog.sync_interval
	SHELFWISE_ANN_TOP_K           ann.top_k
	SHELFWISE_RESULT_TTL          reco.result_ttl
	SHELFWISE_WORKER_IDLE_TIMEOUT reco.worker_idle_timeout
	SHELFWISE_BANDIT_SEED         bandit.seed

See envMappings in koanf.go for the full table.

Validation runs go-playground/validator over the struct tags of every
component config, then the cross-field rules in Validate.
*/
package config
