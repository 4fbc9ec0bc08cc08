package api

// docsHTML renders /openapi.json with Stoplight Elements. The nav links point
// at the event stream page and the raw OpenAPI document.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>scrollframe Capture API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    .sf-nav { position: fixed; top: 12px; right: 16px; z-index: 9999; display: flex; gap: 8px; }
    .sf-nav a {
      background: #161b22; border: 1px solid #30363d; border-radius: 6px; color: #ff934f;
      font: 500 12px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
      padding: 5px 12px; text-decoration: none;
    }
    .sf-nav a:hover { border-color: #ff934f; }
  </style>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <nav class="sf-nav">
    <a href="/docs/events">Event Stream</a>
    <a href="/openapi.json">openapi.json</a>
  </nav>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
