package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client and hands it to the hub, which starts its pumps.
func (a *App) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := NewClient(conn, a.hub, a.router, r.RemoteAddr, a.cfg)

	select {
	case a.hub.GetRegisterChan() <- client:
	case <-a.hub.Done():
		client.log.Warn("hub stopped; rejecting connection")
		client.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (a *App) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Roomchat server is running!")
}

// HistoryHandler serves the stored messages for the user named in the path.
func (a *App) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	messages, err := a.history.ListForUser(r.Context(), userID)
	if err != nil {
		a.log.Error("failed to load message history", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(messages); err != nil {
		a.log.Warn("error writing history response", zap.Error(err))
	}
}

// MetricsHandler exposes the app's Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{})
}

// withCORS adds permissive CORS headers and answers preflight requests.
func withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// TestPageHandler serves an HTML page for trying the chat protocol by hand:
// it connects, authenticates with a token, joins a room and sends messages.
func (a *App) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		a.log.Warn("error writing HTML response", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Roomchat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 220px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #activity { color: #888; font-style: italic; height: 1.2em; }
    </style>
</head>
<body>
    <h1>Roomchat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="tokenInput" placeholder="JWT token">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="nameInput" placeholder="Display name" disabled>
        <input type="text" id="roomInput" placeholder="Room" disabled>
        <button id="joinButton" onclick="enterRoom()" disabled>Join</button>
    </div>

    <div id="messages"></div>
    <div id="activity"></div>
    <div>Rooms: <span id="rooms"></span> | Users: <span id="users"></span></div>

    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        let activityTimer = null;
        const $ = (id) => document.getElementById(id);

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            $('messages').appendChild(el);
            $('messages').scrollTop = $('messages').scrollHeight;
        }

        function setEnabled(ids, enabled) {
            ids.forEach((id) => { $(id).disabled = !enabled; });
        }

        function updateStatus(connected) {
            $('status').textContent = connected ? 'Connected' : 'Disconnected';
            $('status').className = 'status ' + (connected ? 'connected' : 'disconnected');
            $('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
            setEnabled(['nameInput', 'roomInput', 'joinButton'], connected);
            if (!connected) {
                setEnabled(['messageInput', 'sendButton'], false);
            }
        }

        function handleEvent(evt) {
            switch (evt.type) {
            case 'system':
            case 'message':
                addLine('[' + evt.time + '] ' + evt.name + ': ' + evt.text);
                break;
            case 'message:receive':
                addLine(evt.senderName + ': ' + evt.content, 'green');
                break;
            case 'userList':
                $('users').textContent = evt.users.map((u) => u.name).join(', ');
                break;
            case 'roomList':
                $('rooms').textContent = evt.rooms.join(', ');
                break;
            case 'activity':
                $('activity').textContent = evt.name + ' is typing...';
                clearTimeout(activityTimer);
                activityTimer = setTimeout(() => { $('activity').textContent = ''; }, 3000);
                break;
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                ws.send(JSON.stringify({ type: 'connection', data: { token: $('tokenInput').value.trim() } }));
            };
            ws.onmessage = function(event) {
                handleEvent(JSON.parse(event.data));
            };
            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                addLine('Connection error');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function enterRoom() {
            const name = $('nameInput').value.trim();
            const room = $('roomInput').value.trim();
            if (name && room && ws) {
                ws.send(JSON.stringify({ type: 'enterRoom', data: { name: name, room: room } }));
                setEnabled(['messageInput', 'sendButton'], true);
            }
        }

        function sendMessage() {
            const content = $('messageInput').value.trim();
            if (content && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ type: 'message:send', content: content }));
                $('messageInput').value = '';
            }
        }

        $('messageInput').addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            } else if (ws) {
                ws.send(JSON.stringify({ type: 'activity', data: $('nameInput').value.trim() }));
            }
        });
    </script>
</body>
</html>`
