package config

// DefaultConfigYAML contains the default configuration YAML content written
// by `crewflow config init`.
const DefaultConfigYAML = `# crewflow configuration
#
# Values not specified here use built-in defaults. Every key can be
# overridden with a CREWFLOW_<SECTION>_<KEY> environment variable.

log:
  level: info
  # auto | text | json
  format: auto

# Ollama-compatible chat endpoint used by every agent.
model:
  endpoint: http://localhost:11434
  name: qwen2.5-coder
  temperature: 0.7
  max_tokens: 2048
  timeout: 5m
  # 0 disables client-side rate limiting.
  requests_per_minute: 0
  burst: 1

# Tests written by the developer agent run in a subprocess.
executor:
  interpreter: python3
  timeout: 60s

workflow:
  # sequential | parallel; empty keeps each template's process_type
  strategy: ""
  max_parallel: 4
  max_retries: 3
  step_timeout: 300s
  backoff_base: 1s
  backoff_max: 30s
  auto_fix: true
  max_fix_attempts: 1
  strict_requirements: false

# Agent profiles, roles and workflow overrides.
agents:
  path: .crewflow/agents.json
  lock_ttl: 1m
  watch: false

history:
  enabled: true
  path: .crewflow/history.db

server:
  addr: 127.0.0.1:8080
`
