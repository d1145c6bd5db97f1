package web

import (
	"net/http"
)

// ServeDashboard serves the embedded status dashboard. It connects back to
// the /ws endpoint for live anonymization events and polls /v1/stats.
func ServeDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Proxmox-MPC Anonymizer</title>
<style>
  body { font-family: monospace; background: #101418; color: #d6deeb; margin: 2rem; }
  h1 { font-size: 1.2rem; }
  .stats { display: flex; gap: 2rem; margin-bottom: 1rem; }
  .stat { background: #1b2129; padding: 1rem; border-radius: 4px; }
  .stat .value { font-size: 1.6rem; }
  #events { background: #1b2129; padding: 1rem; border-radius: 4px; max-height: 24rem; overflow-y: auto; }
  .event { border-bottom: 1px solid #2a323d; padding: 0.25rem 0; }
</style>
</head>
<body>
<h1>Proxmox-MPC Anonymization Service</h1>
<div class="stats">
  <div class="stat"><div>processed</div><div class="value" id="processed">-</div></div>
  <div class="stat"><div>pseudonyms</div><div class="value" id="pseudonyms">-</div></div>
  <div class="stat"><div>error rate</div><div class="value" id="errorRate">-</div></div>
  <div class="stat"><div>mappings</div><div class="value" id="mappings">-</div></div>
</div>
<div id="events"></div>
<script>
async function refreshStats() {
  try {
    const res = await fetch('/v1/stats');
    const stats = await res.json();
    document.getElementById('processed').textContent = stats.engine.totalProcessed;
    document.getElementById('pseudonyms').textContent = stats.engine.totalPseudonyms;
    document.getElementById('errorRate').textContent = stats.engine.errorRate.toFixed(3);
    document.getElementById('mappings').textContent = stats.mappings.totalMappings;
  } catch (e) { /* server restarting */ }
}
refreshStats();
setInterval(refreshStats, 5000);

const proto = location.protocol === 'https:' ? 'wss' : 'ws';
const ws = new WebSocket(proto + '://' + location.host + '/ws');
ws.onmessage = (msg) => {
  const event = JSON.parse(msg.data);
  if (event.type !== 'anonymization') return;
  const div = document.createElement('div');
  div.className = 'event';
  div.textContent = event.timestamp + ' [' + event.data.processor + '] rules=' +
    (event.data.rules_applied || []).join(',') + ' pseudonyms=' + event.data.pseudonyms_used +
    ' ' + event.data.processing_ms + 'ms' + (event.data.partial ? ' PARTIAL' : '');
  const events = document.getElementById('events');
  events.prepend(div);
  while (events.childElementCount > 200) events.lastChild.remove();
};
</script>
</body>
</html>`
