package api

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream · scrollframe</title>
  <style>
    *, *::before, *::after { box-sizing: border-box; }
    body {
      margin: 0;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    a:hover { text-decoration: underline; }
    nav {
      background: #161b22;
      border-bottom: 1px solid #30363d;
      padding: 0 24px;
      height: 48px;
      display: flex;
      align-items: center;
      gap: 24px;
    }
    nav .brand { font-weight: 600; font-size: 15px; color: #e6edf3; }
    nav .sep { color: #484f58; }
    nav .current { color: #e6edf3; font-weight: 500; }
    main { max-width: 900px; margin: 0 auto; padding: 32px 24px 64px; }
    h1 { margin: 0 0 8px; font-size: 28px; font-weight: 600; color: #e6edf3; }
    .subtitle { color: #8b949e; margin: 0 0 36px; font-size: 15px; }
    h2 {
      margin: 40px 0 12px;
      font-size: 18px;
      font-weight: 600;
      color: #e6edf3;
      padding-bottom: 8px;
      border-bottom: 1px solid #21262d;
    }
    .endpoint {
      display: inline-flex;
      align-items: center;
      gap: 10px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 10px 16px;
      margin: 0 12px 20px 0;
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 14px;
    }
    .method {
      background: #1f6feb;
      color: #fff;
      font-weight: 700;
      font-size: 11px;
      padding: 2px 7px;
      border-radius: 4px;
    }
    .path { color: #e6edf3; }
    table { width: 100%; border-collapse: collapse; margin-bottom: 20px; font-size: 13px; }
    th {
      text-align: left;
      padding: 8px 12px;
      background: #161b22;
      color: #8b949e;
      font-weight: 600;
      border-bottom: 1px solid #30363d;
    }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
    code {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 12px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 3px;
      padding: 1px 5px;
      color: #e6edf3;
    }
    pre {
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
      padding: 16px;
      overflow-x: auto;
    }
    pre code { background: none; border: none; padding: 0; font-size: 13px; }
  </style>
</head>
<body>
  <nav>
    <span class="brand">scrollframe</span>
    <span class="sep">/</span>
    <span class="current">Event Stream</span>
    <a href="/docs">← REST API</a>
  </nav>
  <main>
    <h1>Event Stream</h1>
    <p class="subtitle">Live capture state, frame list and notices for sidebars and popups.</p>

    <div class="endpoint"><span class="method">GET</span><span class="path">/api/v1/events</span></div>
    <div class="endpoint"><span class="method">WS</span><span class="path">/api/v1/events/ws</span></div>

    <p>The first endpoint is Server-Sent Events, the second a WebSocket carrying
    <code>{"feed": "...", "data": {...}}</code> text messages. Both accept
    <code>?feeds=frames,capture_state</code> to subscribe to a subset. New clients receive
    the latest <code>frames</code>, <code>capture_state</code> and <code>quota</code> immediately.</p>

    <h2>Feeds</h2>
    <table>
      <tr><th>Feed</th><th>When</th><th>Data</th></tr>
      <tr><td><code>frames</code></td><td>Any change to the frame list</td>
          <td><code>{count, frames: [{id, number, annotation, timestamp, imageUrl, ...}]}</code></td></tr>
      <tr><td><code>capture_state</code></td><td>Selection, start, pause, resume, stop, each capture</td>
          <td><code>{isActive, isPaused, frameCount, state, sessionId}</code></td></tr>
      <tr><td><code>quota_exceeded</code></td><td>A free-plan capture was denied</td>
          <td><code>{dailyFrameCount, limit, resetAt}</code></td></tr>
      <tr><td><code>quota</code></td><td>Plan or daily counter changed (capture, rollover, license)</td>
          <td><code>{plan, dailyFrameCount, limit, remaining, resetAt}</code></td></tr>
      <tr><td><code>notice</code></td><td>Transient user-facing message</td>
          <td><code>{level, message, time}</code></td></tr>
    </table>
    <p>Frame payloads never carry image bytes. Fetch <code>imageUrl</code> for the PNG.</p>

    <h2>Example</h2>
    <pre><code>const es = new EventSource("/api/v1/events?feeds=frames,quota_exceeded");
es.addEventListener("frames", (e) =&gt; render(JSON.parse(e.data).frames));
es.addEventListener("quota_exceeded", () =&gt; showUpgradePrompt());</code></pre>
  </main>
</body>
</html>`
