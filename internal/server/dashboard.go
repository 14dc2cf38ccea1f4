package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// dashboardHandler serves the operator dashboard: recent alerts from the
// REST API plus a live tail over the WebSocket feed.
func dashboardHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>riskwatch</title>
<style>
  body { font-family: ui-monospace, monospace; background: #0d1117; color: #c9d1d9; margin: 0; padding: 2rem; }
  h1 { font-size: 1.2rem; color: #58a6ff; }
  h2 { font-size: 0.95rem; color: #8b949e; margin-top: 2rem; }
  table { border-collapse: collapse; width: 100%; font-size: 0.85rem; }
  th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #21262d; }
  th { color: #8b949e; font-weight: normal; }
  .MEDIUM { color: #d29922; }
  .HIGH { color: #f0883e; }
  .CRITICAL { color: #f85149; }
  #status { float: right; font-size: 0.8rem; color: #8b949e; }
</style>
</head>
<body>
<h1>riskwatch <span id="status">connecting…</span></h1>

<h2>Live alerts</h2>
<table id="live">
  <tr><th>time</th><th>entity</th><th>level</th><th>score</th><th>signals</th></tr>
</table>

<h2>Recent alerts</h2>
<table id="recent">
  <tr><th>time</th><th>entity</th><th>level</th><th>score</th><th>signals</th></tr>
</table>

<script>
function row(a) {
  var tr = document.createElement('tr');
  var ts = a.timestamp ? new Date(a.timestamp).toLocaleTimeString() : '';
  tr.innerHTML = '<td>' + ts + '</td>' +
    '<td>' + (a.entityId || '') + '</td>' +
    '<td class="' + a.level + '">' + a.level + '</td>' +
    '<td>' + (a.riskScore != null ? a.riskScore.toFixed(2) : '') + '</td>' +
    '<td>' + (a.signalTypes || []).join(', ') + '</td>';
  return tr;
}

fetch('/api/v1/risk/alerts?limit=25')
  .then(function(r) { return r.json(); })
  .then(function(list) {
    var table = document.getElementById('recent');
    list.forEach(function(a) { table.appendChild(row(a)); });
  });

var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
var ws = new WebSocket(proto + location.host + '/ws/alerts');
var status = document.getElementById('status');
ws.onopen = function() { status.textContent = 'live'; };
ws.onclose = function() { status.textContent = 'disconnected'; };
ws.onmessage = function(msg) {
  var a = JSON.parse(msg.data);
  var table = document.getElementById('live');
  table.insertBefore(row(a), table.rows[1]);
  while (table.rows.length > 26) table.deleteRow(-1);
};
</script>
</body>
</html>
`
