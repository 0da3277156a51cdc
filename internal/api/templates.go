package api

import "html/template"

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Customer portal - sign in</title></head>
<body>
<main class="login">
<h1>Customer portal</h1>
{{- if .Error}}
<p class="login-error" role="alert">{{.Error}}</p>
{{- end}}
<form method="post" action="/login">
<label>Username <input name="username" value="{{.Username}}" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
</main>
</body>
</html>
`))

type loginPage struct {
	Username string
	Error    string
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Customer portal</title>
<script src="https://unpkg.com/htmx.org@1.9.12"></script></head>
<body>
<header class="portal-header">
<span class="portal-user">{{.Name}}</span>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
</header>
<main id="viewers">
{{- range .Viewers}}
{{.}}
{{- end}}
</main>
</body>
</html>
`))

type homePage struct {
	Name    string
	Viewers []template.HTML
}
