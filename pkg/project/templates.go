package project

import "github.com/appforge/appforge/pkg/models"

// Template bundles the deterministic strings injected verbatim into agent
// prompts for one project type.
type Template struct {
	Dockerfile   string
	Architecture []string
	Scaffold     []string
	Port         int
}

const dockerfileStatic = `FROM nginx:alpine
COPY . /usr/share/nginx/html
EXPOSE 80`

const dockerfileSPA = `FROM node:20-alpine AS build
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build
FROM nginx:alpine
COPY --from=build /app/dist /usr/share/nginx/html
EXPOSE 80`

const dockerfileAPI = `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --omit=dev
COPY . .
EXPOSE 3000
CMD ["node", "server.js"]`

const dockerfilePythonWorker = `FROM python:3.12-slim
WORKDIR /app
RUN pip install --no-cache-dir supervisor
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
EXPOSE 8080
CMD ["supervisord", "-c", "supervisord.conf"]`

const dockerfileNodeWorker = `FROM node:20-alpine
WORKDIR /app
COPY package*.json ./
RUN npm install --omit=dev
COPY . .
EXPOSE 3000
CMD ["sh", "-c", "node bot.js & node server.js & wait"]`

const dockerfileFullstack = `FROM node:20-alpine AS build
WORKDIR /app
COPY package*.json ./
RUN npm install
COPY . .
RUN npm run build
FROM node:20-alpine
WORKDIR /app
COPY --from=build /app .
EXPOSE 3000
CMD ["node", "server.js"]`

var templates = map[models.ProjectType]Template{
	models.TypeStatic: {
		Dockerfile: dockerfileStatic,
		Port:       80,
		Architecture: []string{
			"Pure static site: HTML, CSS and vanilla JS only, no build step",
			"All assets live at the repository root and are served as-is by nginx",
			"No backend, no database, no API calls to first-party services",
		},
		Scaffold: []string{
			"index.html with the full page structure",
			"style.css with all styling",
			"script.js only if interactivity is needed",
			"Dockerfile exactly as given",
		},
	},
	models.TypeSPA: {
		Dockerfile: dockerfileSPA,
		Port:       80,
		Architecture: []string{
			"Single-page app built with Vite, output in dist/",
			"Client-side state only; persist with localStorage when needed",
			"No backend: any data is bundled or fetched from public APIs",
		},
		Scaffold: []string{
			"package.json with a build script producing dist/",
			"index.html entry point",
			"src/ with the app entry module and components",
			"Dockerfile exactly as given",
		},
	},
	models.TypeAPI: {
		Dockerfile: dockerfileAPI,
		Port:       3000,
		Architecture: []string{
			"Node/Express JSON API listening on port 3000",
			"server.js is the single entry point",
			"Persist with a JSON file or in-memory store, no external database",
			"Every endpoint returns JSON with proper status codes",
		},
		Scaffold: []string{
			"package.json with express dependency and start script",
			"server.js binding 0.0.0.0:3000",
			"routes/ for endpoint modules if more than a handful",
			"Dockerfile exactly as given",
		},
	},
	models.TypePythonWorker: {
		Dockerfile: dockerfilePythonWorker,
		Port:       8080,
		Architecture: []string{
			"Python worker (bot.py) plus a Flask dashboard (app.py) on port 8080",
			"supervisord runs both processes in one container",
			"Share state between worker and dashboard through a JSON or SQLite file",
			"requirements.txt pins every dependency",
		},
		Scaffold: []string{
			"bot.py with the worker loop",
			"app.py Flask app binding 0.0.0.0:8080",
			"supervisord.conf running both programs with autorestart",
			"requirements.txt",
			"Dockerfile exactly as given",
		},
	},
	models.TypeNodeWorker: {
		Dockerfile: dockerfileNodeWorker,
		Port:       3000,
		Architecture: []string{
			"Node worker (bot.js) plus an Express status server (server.js) on port 3000",
			"Both processes start concurrently from the container CMD",
			"Share state through a JSON file in the working directory",
		},
		Scaffold: []string{
			"bot.js with the worker loop",
			"server.js Express app binding 0.0.0.0:3000",
			"package.json with start scripts for both processes",
			"Dockerfile exactly as given",
		},
	},
	models.TypeFullstack: {
		Dockerfile: dockerfileFullstack,
		Port:       3000,
		Architecture: []string{
			"Node/Express backend serving both the API and the built frontend on port 3000",
			"Frontend built at image build time, served statically by Express",
			"API routes under /api, everything else serves the frontend",
			"Persist with a JSON file or SQLite, no external database",
		},
		Scaffold: []string{
			"package.json with build and start scripts",
			"server.js serving /api routes and the built frontend",
			"src/ or public/ with the frontend entry",
			"Dockerfile exactly as given",
		},
	},
}

// TemplateFor returns the template for a type. Unknown types fall back to
// the fullstack template, the most permissive shape.
func TemplateFor(t models.ProjectType) Template {
	if tpl, ok := templates[t]; ok {
		return tpl
	}
	return templates[models.TypeFullstack]
}

// Port returns the exposed container port for a type, used when creating
// the deployment domain.
func Port(t models.ProjectType) int {
	return TemplateFor(t).Port
}
