package main

import _ "embed"

// indexHTML is the console page template.
//go:embed web/index.html
var indexHTML string

// loginHTML is the login page template.
//go:embed web/login.html
var loginHTML string

//go:embed web/style.css
var styleCSS string

//go:embed web/app.js
var appJS string

//go:embed web/favicon.svg
var faviconSVG string
