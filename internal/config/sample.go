// ABOUTME: Annotated sample configuration written by `stampdesk init`
// ABOUTME: Kept loadable; tests parse it with Load

package config

// SampleYAML is a starting configuration with every section present.
const SampleYAML = `# stampdesk configuration
server:
  http_addr: "localhost:8080"
  restart_delay: "5s"
  allowed_origins: []

tailscale:
  enabled: false
  hostname: "stampdesk"
  auth_key: "${TS_AUTHKEY}"

storage:
  backend: "json"            # json or sqlite
  path: "data/signatures.json"
  intake_dir: "data/intake"
  signed_dir: "data/signed"

auth:
  jwt_secret: "${STAMPDESK_JWT_SECRET}"   # empty disables token auth

stamping:
  stamp_dir: "data/stamps"
  engineer_image: "engineer.png"
  company_image: "company.png"
  engineer_name: ""
  license_number: ""
  role_title: "Professional Engineer"

email:
  host: ""
  port: 587
  username: ""
  password: "${STAMPDESK_SMTP_PASSWORD}"
  from: ""
  from_name: "stampdesk"
  tls: "opportunistic"       # opportunistic, mandatory or none
  timeout: "30s"
  subject: "Signed: {{.ProjectName}}"

harvester:
  enabled: false
  imap_addr: "imap.example.com:993"
  username: ""
  password: "${STAMPDESK_IMAP_PASSWORD}"
  mailbox: "INBOX"
  poll_interval: "5m"
  timeout: "1m"
  dedupe_ttl: "24h"
  project_labels: ["project", "address"]

audit:
  capacity: 500
  snapshot_tail: 100

logging:
  level: "info"
  format: "text"             # text or json
`
