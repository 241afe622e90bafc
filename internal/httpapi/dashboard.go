package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Lead Console</title>
  <style>
    :root {
      --ink: #15222e;
      --paper: #f4f6f8;
      --card: #ffffff;
      --line: #d4dde4;
      --accent: #1f7a6d;
      --accent-2: #d97f31;
      --danger: #bd4438;
      --muted: #6a7a87;
      --shadow: 0 14px 30px rgba(21, 34, 46, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #f8fbfa 0%, #eef3f6 55%, #ffffff 100%);
      min-height: 100vh;
      padding: 18px;
    }

    .shell { max-width: 1180px; margin: 0 auto; display: grid; gap: 14px; }

    .bar, .panel {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 14px 16px;
      box-shadow: var(--shadow);
    }

    h1 { margin: 0; font-size: 1.4rem; letter-spacing: 0.02em; }
    .sub { margin-top: 4px; color: var(--muted); font-size: 0.88rem; }

    .tabs { display: flex; gap: 8px; margin-top: 10px; }
    .tabs button {
      border: 1px solid var(--line);
      background: #f6f9f8;
      border-radius: 9px;
      padding: 7px 16px;
      cursor: pointer;
      font-weight: 600;
    }
    .tabs button.active { background: var(--accent); color: #fff; border-color: var(--accent); }

    .filters {
      display: grid;
      gap: 8px;
      grid-template-columns: repeat(6, 1fr);
      margin-top: 12px;
    }
    .filters label { display: grid; gap: 3px; font-size: 0.78rem; color: var(--muted); }
    .filters select, .filters input {
      border: 1px solid var(--line);
      border-radius: 8px;
      padding: 6px 8px;
      font-size: 0.85rem;
      background: #fff;
    }
    .filters .check { display: flex; gap: 10px; align-items: end; padding-bottom: 6px; font-size: 0.85rem; color: var(--ink); }

    .actions { display: flex; gap: 8px; margin-top: 10px; flex-wrap: wrap; align-items: center; }
    .actions button {
      border: 0;
      border-radius: 9px;
      padding: 8px 14px;
      cursor: pointer;
      font-weight: 600;
      background: var(--accent);
      color: #fff;
    }
    .actions button.secondary { background: #e7edf0; color: var(--ink); }
    .actions button:disabled { opacity: 0.45; cursor: default; }
    .pill {
      font-size: 0.78rem;
      border-radius: 999px;
      padding: 3px 10px;
      background: #eef4f2;
      color: var(--muted);
    }
    .pill.err { background: #fbe9e7; color: var(--danger); }
    .pill.warn { background: #fcf1e3; color: var(--accent-2); }

    .bucket h2 {
      margin: 14px 0 8px;
      font-size: 0.92rem;
      text-transform: uppercase;
      letter-spacing: 0.08em;
      color: var(--muted);
    }

    .lead {
      display: grid;
      grid-template-columns: auto 1fr auto auto;
      gap: 12px;
      align-items: center;
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 11px;
      padding: 10px 14px;
      margin-bottom: 8px;
    }
    .lead.pending { opacity: 0.55; }
    .lead .title { font-weight: 600; }
    .lead .meta { color: var(--muted); font-size: 0.82rem; margin-top: 2px; }
    .status { font-size: 0.75rem; border-radius: 999px; padding: 3px 10px; font-weight: 700; }
    .status.LEAD { background: #e4f0ee; color: var(--accent); }
    .status.REACHED_OUT { background: #e8edfb; color: #3b5bb5; }
    .status.ERROR { background: #fbe9e7; color: var(--danger); }
    .unread {
      background: var(--accent-2);
      color: #fff;
      border-radius: 999px;
      font-size: 0.72rem;
      padding: 2px 8px;
      font-weight: 700;
    }
    .lead button { border: 1px solid var(--line); background: #f6f9f8; border-radius: 8px; padding: 6px 12px; cursor: pointer; }

    .drawer {
      position: fixed;
      top: 0; right: 0; bottom: 0;
      width: min(430px, 92vw);
      background: var(--card);
      border-left: 1px solid var(--line);
      box-shadow: var(--shadow);
      display: none;
      grid-template-rows: auto 1fr auto;
      padding: 16px;
      gap: 10px;
    }
    .drawer.open { display: grid; }
    .messages { overflow-y: auto; display: grid; gap: 8px; align-content: start; }
    .msg { max-width: 82%; border-radius: 12px; padding: 8px 12px; font-size: 0.88rem; }
    .msg.incoming { background: #eef2f5; justify-self: start; }
    .msg.outgoing { background: #dcefe9; justify-self: end; }
    .msg .ts { display: block; color: var(--muted); font-size: 0.7rem; margin-top: 4px; }
    .compose { display: flex; gap: 8px; }
    .compose input { flex: 1; border: 1px solid var(--line); border-radius: 9px; padding: 8px 10px; }
    .compose button { border: 0; background: var(--accent); color: #fff; border-radius: 9px; padding: 8px 14px; cursor: pointer; }

    .login { max-width: 360px; margin: 12vh auto; display: grid; gap: 10px; }
    .login input { border: 1px solid var(--line); border-radius: 9px; padding: 9px 12px; }
    .login button { border: 0; background: var(--accent); color: #fff; border-radius: 9px; padding: 9px 14px; cursor: pointer; font-weight: 700; }
    .hidden { display: none; }
  </style>
</head>
<body>
  <div class="login panel" id="login">
    <h1>Lead Console</h1>
    <p class="sub">Enter the operator password to open the console.</p>
    <input id="password" type="password" placeholder="password" />
    <button id="loginBtn">Sign in</button>
    <span class="pill err hidden" id="loginError"></span>
  </div>

  <div class="shell hidden" id="console">
    <div class="bar">
      <h1>Lead Console</h1>
      <div class="sub">Local operator surface &middot; <span id="counts"></span></div>
      <div class="tabs">
        <button id="tabNew" class="active">New Leads</button>
        <button id="tabHistory">History</button>
      </div>
      <div class="filters">
        <label>Property type
          <select id="propertyType" multiple size="3"></select>
        </label>
        <label>Region <select id="region"><option value="">All</option></select></label>
        <label>Zone <select id="zone"><option value="">All</option></select></label>
        <div class="check">
          <label><input type="checkbox" id="sale" /> Sale</label>
          <label><input type="checkbox" id="rent" /> Rent</label>
        </div>
        <label>Rooms
          <select id="rooms">
            <option value="all">All</option>
            <option>1</option><option>2</option><option>3</option><option>4</option>
            <option value="5+">5+</option>
          </select>
        </label>
        <label>Group by
          <select id="groupBy">
            <option value="added">Date added</option>
            <option value="activity">Last activity</option>
          </select>
        </label>
        <label>Min budget <input id="minBudget" type="number" /></label>
        <label>Max budget <input id="maxBudget" type="number" /></label>
        <label>From <input id="dateFrom" type="date" /></label>
        <label>To <input id="dateTo" type="date" /></label>
        <label>Template <select id="template"></select></label>
      </div>
      <div class="actions">
        <button id="sendSelected">Send to selected</button>
        <button id="selectAll" class="secondary">Select visible</button>
        <button id="clearSelection" class="secondary">Clear</button>
        <button id="refresh" class="secondary">Refresh</button>
        <span class="pill" id="status">idle</span>
      </div>
    </div>
    <div id="buckets"></div>
  </div>

  <div class="drawer panel" id="drawer">
    <div>
      <strong id="drawerTitle"></strong>
      <button id="drawerClose" style="float:right">&times;</button>
      <div class="sub" id="drawerError"></div>
    </div>
    <div class="messages" id="messages"></div>
    <div class="compose">
      <input id="reply" placeholder="Type a reply" />
      <button id="replyBtn">Send</button>
    </div>
  </div>

  <script>
    (function () {
      const dom = {};
      ["login", "password", "loginBtn", "loginError", "console", "counts",
       "tabNew", "tabHistory", "propertyType", "region", "zone", "sale", "rent",
       "rooms", "groupBy", "minBudget", "maxBudget", "dateFrom", "dateTo",
       "template", "sendSelected", "selectAll", "clearSelection", "refresh",
       "status", "buckets", "drawer", "drawerTitle", "drawerClose",
       "drawerError", "messages", "reply", "replyBtn"].forEach(function (id) {
        dom[id] = document.getElementById(id);
      });

      const store = {
        view: "new",
        selected: new Set(),
        visible: [],
        openLead: null,
        socket: null,
      };

      function setStatus(text, kind) {
        dom.status.textContent = text;
        dom.status.className = "pill" + (kind ? " " + kind : "");
      }

      async function api(path, options) {
        const res = await fetch(path, options);
        const body = await res.json().catch(function () { return {}; });
        if (!res.ok) {
          if (res.status === 401 && body.code === "unauthorized") {
            showLogin();
          }
          throw new Error(body.message || res.statusText);
        }
        return body;
      }

      function showLogin() {
        dom.console.classList.add("hidden");
        dom.login.classList.remove("hidden");
      }

      function showConsole() {
        dom.login.classList.add("hidden");
        dom.console.classList.remove("hidden");
      }

      function filterQuery() {
        const params = new URLSearchParams();
        params.set("view", store.view);
        params.set("groupBy", dom.groupBy.value);
        const types = Array.from(dom.propertyType.selectedOptions).map(function (o) { return o.value; });
        if (types.length) params.set("propertyTypes", types.join(","));
        if (dom.region.value) params.set("regionId", dom.region.value);
        if (dom.zone.value) params.set("zoneId", dom.zone.value);
        if (dom.sale.checked) params.set("sale", "true");
        if (dom.rent.checked) params.set("rent", "true");
        if (dom.rooms.value !== "all") params.set("rooms", dom.rooms.value);
        if (dom.minBudget.value) params.set("minBudget", dom.minBudget.value);
        if (dom.maxBudget.value) params.set("maxBudget", dom.maxBudget.value);
        if (dom.dateFrom.value) params.set("dateFrom", dom.dateFrom.value);
        if (dom.dateTo.value) params.set("dateTo", dom.dateTo.value);
        return params.toString();
      }

      function fillOptions(select, options, keepBlank) {
        const current = select.value;
        select.innerHTML = keepBlank ? '<option value="">All</option>' : "";
        (options || []).forEach(function (opt) {
          const el = document.createElement("option");
          el.value = opt.value;
          el.textContent = opt.label;
          select.appendChild(el);
        });
        select.value = current;
      }

      function renderBuckets(buckets, pending) {
        const pendingSet = new Set(pending || []);
        dom.buckets.innerHTML = "";
        store.visible = [];
        (buckets || []).forEach(function (bucket) {
          const section = document.createElement("div");
          section.className = "bucket";
          const heading = document.createElement("h2");
          heading.textContent = bucket.label;
          section.appendChild(heading);
          (bucket.leads || []).forEach(function (lead) {
            store.visible.push(lead.property_id);
            const row = document.createElement("div");
            row.className = "lead" + (pendingSet.has(lead.property_id) ? " pending" : "");

            const check = document.createElement("input");
            check.type = "checkbox";
            check.checked = store.selected.has(lead.property_id);
            check.addEventListener("change", function () {
              if (check.checked) store.selected.add(lead.property_id);
              else store.selected.delete(lead.property_id);
            });
            row.appendChild(check);

            const info = document.createElement("div");
            const title = document.createElement("div");
            title.className = "title";
            title.textContent = lead.title || lead.property_id;
            const meta = document.createElement("div");
            meta.className = "meta";
            meta.textContent = (lead.lister_name || "unknown lister") +
              (lead.lister_phone ? " · " + lead.lister_phone : "") +
              (lead.last_message_excerpt ? " · " + lead.last_message_excerpt : "");
            info.appendChild(title);
            info.appendChild(meta);
            row.appendChild(info);

            const badges = document.createElement("div");
            const status = document.createElement("span");
            status.className = "status " + (lead.status || "LEAD");
            status.textContent = lead.status || "LEAD";
            badges.appendChild(status);
            if (lead.unread_count) {
              const unread = document.createElement("span");
              unread.className = "unread";
              unread.textContent = lead.unread_count;
              badges.appendChild(document.createTextNode(" "));
              badges.appendChild(unread);
            }
            row.appendChild(badges);

            const open = document.createElement("button");
            open.textContent = "Chat";
            open.addEventListener("click", function () { openConversation(lead); });
            row.appendChild(open);

            section.appendChild(row);
          });
          dom.buckets.appendChild(section);
        });
      }

      async function refresh() {
        try {
          const data = await api("/console/api/leads?" + filterQuery());
          fillOptions(dom.propertyType, data.options && data.options.property_types, false);
          fillOptions(dom.region, data.options && data.options.regions, true);
          fillOptions(dom.zone, data.options && data.options.zones, true);
          renderBuckets(data.buckets, data.pending);
          store.selected.forEach(function (id) {
            if (store.visible.indexOf(id) < 0) store.selected.delete(id);
          });
          dom.counts.textContent = data.matched + " of " + data.total + " leads";
          if (data.authExpired) {
            setStatus("backend session expired", "err");
          } else if (data.lastError) {
            setStatus("refresh failed: " + data.lastError, "warn");
          } else if (data.refreshing) {
            setStatus("refreshing…", "warn");
          } else {
            setStatus("up to date");
          }
        } catch (err) {
          setStatus(String(err.message || err), "err");
        }
      }

      async function loadTemplates() {
        try {
          const data = await api("/console/api/templates");
          dom.template.innerHTML = "";
          (data.templates || []).forEach(function (tpl) {
            const el = document.createElement("option");
            el.value = tpl.name;
            el.textContent = tpl.display_name || tpl.name;
            dom.template.appendChild(el);
          });
        } catch (err) {
          // templates are optional; leave the selector empty
        }
      }

      async function sendSelected() {
        const ids = Array.from(store.selected);
        if (!ids.length) return;
        dom.sendSelected.disabled = true;
        setStatus("sending " + ids.length + "…", "warn");
        try {
          const result = await api("/console/api/send-batch", {
            method: "POST",
            headers: { "Content-Type": "application/json" },
            body: JSON.stringify({ property_ids: ids, template_name: dom.template.value }),
          });
          store.selected.clear();
          if (result.failed > 0) {
            setStatus("sent " + result.sent + ", failed " + result.failed, "warn");
          } else {
            setStatus("sent " + result.sent);
          }
        } catch (err) {
          setStatus(String(err.message || err), "err");
        } finally {
          dom.sendSelected.disabled = false;
          refresh();
        }
      }

      function renderMessages(messages) {
        dom.messages.innerHTML = "";
        (messages || []).forEach(function (msg) {
          const el = document.createElement("div");
          el.className = "msg " + (msg.direction === "outgoing" ? "outgoing" : "incoming");
          el.textContent = msg.message || "";
          const ts = document.createElement("span");
          ts.className = "ts";
          ts.textContent = msg.timestamp || "";
          el.appendChild(ts);
          dom.messages.appendChild(el);
        });
        dom.messages.scrollTop = dom.messages.scrollHeight;
      }

      async function refreshConversation() {
        if (!store.openLead) return;
        const id = store.openLead;
        try {
          const data = await api("/console/api/leads/" + encodeURIComponent(id) + "/messages");
          if (store.openLead !== id) return;
          renderMessages(data.messages);
          if (data.draft && !dom.reply.value) dom.reply.value = data.draft;
          dom.drawerError.textContent = data.sendError || "";
        } catch (err) {
          dom.drawerError.textContent = String(err.message || err);
        }
      }

      function openConversation(lead) {
        store.openLead = lead.property_id;
        dom.drawerTitle.textContent = lead.title || lead.property_id;
        dom.drawerError.textContent = "";
        dom.reply.value = "";
        dom.messages.innerHTML = "";
        dom.drawer.classList.add("open");
        refreshConversation();
      }

      async function sendReply() {
        if (!store.openLead || !dom.reply.value.trim()) return;
        const id = store.openLead;
        const text = dom.reply.value;
        try {
          await api("/console/api/leads/" + encodeURIComponent(id) + "/reply", {
            method: "POST",
            headers: { "Content-Type": "application/json" },
            body: JSON.stringify({ message: text }),
          });
          dom.reply.value = "";
          refreshConversation();
        } catch (err) {
          dom.drawerError.textContent = String(err.message || err);
        }
      }

      function connectLive() {
        if (store.socket) store.socket.close();
        const scheme = window.location.protocol === "https:" ? "wss" : "ws";
        const socket = new WebSocket(scheme + "://" + window.location.host + "/console/live");
        socket.onmessage = function (ev) {
          try {
            const event = JSON.parse(ev.data);
            if (event.view === store.view) refresh();
          } catch (err) { /* ignore malformed frames */ }
        };
        socket.onclose = function () {
          setTimeout(connectLive, 3000);
        };
        store.socket = socket;
      }

      async function login() {
        dom.loginError.classList.add("hidden");
        try {
          await api("/console/login", {
            method: "POST",
            headers: { "Content-Type": "application/json" },
            body: JSON.stringify({ password: dom.password.value }),
          });
          dom.password.value = "";
          showConsole();
          loadTemplates();
          refresh();
          connectLive();
        } catch (err) {
          dom.loginError.textContent = String(err.message || err);
          dom.loginError.classList.remove("hidden");
        }
      }

      function setView(view) {
        store.view = view;
        store.selected.clear();
        dom.tabNew.className = view === "new" ? "active" : "";
        dom.tabHistory.className = view === "history" ? "active" : "";
        refresh();
      }

      dom.loginBtn.addEventListener("click", login);
      dom.password.addEventListener("keydown", function (ev) { if (ev.key === "Enter") login(); });
      dom.tabNew.addEventListener("click", function () { setView("new"); });
      dom.tabHistory.addEventListener("click", function () { setView("history"); });
      dom.refresh.addEventListener("click", function () {
        api("/console/api/refresh?view=" + store.view, { method: "POST" }).then(refresh, refresh);
      });
      dom.sendSelected.addEventListener("click", sendSelected);
      dom.selectAll.addEventListener("click", function () {
        store.visible.forEach(function (id) { store.selected.add(id); });
        refresh();
      });
      dom.clearSelection.addEventListener("click", function () {
        store.selected.clear();
        refresh();
      });
      dom.drawerClose.addEventListener("click", function () {
        store.openLead = null;
        dom.drawer.classList.remove("open");
      });
      dom.replyBtn.addEventListener("click", sendReply);
      dom.reply.addEventListener("keydown", function (ev) { if (ev.key === "Enter") sendReply(); });
      [dom.groupBy, dom.region, dom.zone, dom.rooms, dom.sale, dom.rent,
       dom.minBudget, dom.maxBudget, dom.dateFrom, dom.dateTo, dom.propertyType]
        .forEach(function (el) { el.addEventListener("change", refresh); });

      setInterval(function () {
        if (store.openLead) refreshConversation();
      }, 5000);

      // Probe an API route to decide whether a session already exists.
      api("/console/api/templates").then(function () {
        showConsole();
        loadTemplates();
        refresh();
        connectLive();
      }, function () {
        showLogin();
      });
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
