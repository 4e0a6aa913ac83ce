package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Smart Door Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111418; color: #e8e8e8; }
        .app { max-width: 1200px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; margin-bottom: 16px; }
        .title { font-size: 22px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 12px; font-size: 13px; background: #333; }
        .badge.normal { background: #1f6f3a; }
        .badge.alerting { background: #b3261e; animation: blink 1s step-start infinite; }
        @keyframes blink { 50% { opacity: 0.4; } }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; }
        .panel { background: #1b1f24; border-radius: 8px; padding: 16px; }
        .panel h2 { margin: 0 0 4px; font-size: 16px; }
        .panel-subtitle { margin: 0 0 12px; color: #9aa0a6; font-size: 13px; }
        .stat-grid { display: grid; grid-template-columns: 1fr 1fr; gap: 10px; }
        .stat { background: #22272e; border-radius: 6px; padding: 10px; }
        .stat-label { display: block; color: #9aa0a6; font-size: 12px; }
        .stat-value { display: block; font-size: 22px; font-weight: 600; }
        .light { display: inline-block; width: 14px; height: 14px; border-radius: 50%; margin-right: 6px; background: #555; }
        .light.green { background: #2ecc71; }
        .light.red { background: #e74c3c; }
        .list-item { display: flex; justify-content: space-between; padding: 6px 0; border-bottom: 1px solid #2a2f36; font-size: 13px; }
        .btn { padding: 8px 14px; border: 0; border-radius: 6px; cursor: pointer; font-size: 14px; }
        .btn-primary { background: #3b82f6; color: #fff; }
        .btn-danger { background: #b3261e; color: #fff; }
        img#stream { width: 100%; height: auto; background: #000; border-radius: 6px; }
        @media (max-width: 800px) { .grid { grid-template-columns: 1fr; } }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Smart Door Monitor</div>
            <span class="badge" id="mode-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Live Feed</h2>
                <p class="panel-subtitle">Annotated MJPEG stream</p>
                <img id="stream" src="/video_feed" alt="Live door camera">
            </div>

            <div>
                <div class="panel">
                    <h2>Door</h2>
                    <p class="panel-subtitle">Occupancy and spoofing alert state</p>
                    <div class="stat-grid">
                        <div class="stat">
                            <span class="stat-label">People</span>
                            <span class="stat-value" id="people">--</span>
                        </div>
                        <div class="stat">
                            <span class="stat-label">Door</span>
                            <span class="stat-value"><span class="light" id="light"></span><span id="door">--</span></span>
                        </div>
                    </div>
                    <div class="list">
                        <div class="list-item"><span>Alert until</span><span id="alert-until">--</span></div>
                        <div class="list-item"><span>Frames processed</span><span id="frames">--</span></div>
                        <div class="list-item"><span>Anomalies</span><span id="anomalies">--</span></div>
                        <div class="list-item"><span>Model</span><span id="model">--</span></div>
                        <div class="list-item"><span>Last update</span><span id="updated">--</span></div>
                    </div>
                </div>

                <div class="panel" style="margin-top:16px;">
                    <h2>Recording</h2>
                    <p class="panel-subtitle">Annotated frames saved as .mjpeg</p>
                    <button id="record-btn" class="btn btn-primary">Record</button>
                    <div id="record-info" class="panel-subtitle" style="margin-top:8px;"></div>
                </div>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        let recording = false;

        function render(s) {
            $('people').textContent = s.people_count;
            $('door').textContent = s.door_status;
            $('light').className = 'light ' + s.light;
            $('frames').textContent = s.frames_processed;
            $('anomalies').textContent = s.anomalies;
            $('model').textContent = s.model_status;
            $('alert-until').textContent = s.alert_until ? new Date(s.alert_until * 1000).toLocaleTimeString() : '--';
            $('updated').textContent = new Date(s.timestamp * 1000).toLocaleTimeString();
            const badge = $('mode-badge');
            badge.textContent = s.alert_active ? 'SECURITY ALERT' : 'Normal';
            badge.className = 'badge ' + s.mode.toLowerCase();
            setRecording(s.recording);
        }

        function setRecording(on) {
            recording = on;
            const btn = $('record-btn');
            btn.textContent = on ? 'Stop' : 'Record';
            btn.className = 'btn ' + (on ? 'btn-danger' : 'btn-primary');
        }

        function connectSSE() {
            const es = new EventSource('/api/status/stream');
            es.onmessage = (e) => render(JSON.parse(e.data));
            es.onerror = () => { es.close(); setTimeout(connect, 3000); };
        }

        function connect() {
            if (!('WebSocket' in window)) { connectSSE(); return; }
            const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(proto + location.host + '/ws/status');
            let opened = false;
            ws.onopen = () => { opened = true; };
            ws.onmessage = (e) => render(JSON.parse(e.data));
            ws.onclose = () => { opened ? setTimeout(connect, 3000) : connectSSE(); };
        }

        $('record-btn').addEventListener('click', async () => {
            const res = await fetch(recording ? '/api/recording/stop' : '/api/recording/start', { method: 'POST' });
            const body = await res.json();
            if (!res.ok) { $('record-info').textContent = body.error; return; }
            $('record-info').textContent = body.status + ': ' + body.file;
            setRecording(body.status === 'recording');
        });

        window.addEventListener('load', connect);
    </script>
</body>
</html>
`
