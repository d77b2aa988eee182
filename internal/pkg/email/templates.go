package email

// BaseTemplate is the layout every email is wrapped in.
const BaseTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f4f6fb; color: #1f2937; }
        .container { max-width: 600px; margin: 0 auto; padding: 40px 20px; }
        .card { background: #ffffff; border-radius: 12px; padding: 32px; border: 1px solid #e5e7eb; }
        .logo { text-align: center; margin-bottom: 24px; font-size: 26px; font-weight: 700; color: #2563eb; }
        h2 { font-size: 22px; margin: 0 0 16px; }
        p { color: #4b5563; font-size: 15px; line-height: 1.6; margin: 0 0 16px; }
        table.facts { width: 100%; border-collapse: collapse; margin: 16px 0 24px; }
        table.facts td { padding: 8px 0; border-bottom: 1px solid #f1f5f9; font-size: 14px; }
        table.facts td.label { color: #6b7280; width: 45%; }
        .btn { display: inline-block; background: #2563eb; color: #ffffff !important; text-decoration: none; padding: 12px 24px; border-radius: 8px; font-weight: 600; }
        .footer { text-align: center; margin-top: 24px; color: #9ca3af; font-size: 12px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="logo">Eficia</div>
        <div class="card">
            {{.Content}}
        </div>
        <div class="footer">Eficia · Enrichissement de fichiers B2B</div>
    </div>
</body>
</html>
`

// AdminNewJobTemplate tells an operator that a file is waiting for enrichment.
const AdminNewJobTemplate = `
<h2>New file to enrich</h2>
<p><strong>{{.UserName}}</strong> uploaded <strong>{{.Filename}}</strong>.</p>
<table class="facts">
    <tr><td class="label">Email</td><td>{{.UserEmail}}</td></tr>
    {{if .UserPhone}}<tr><td class="label">Phone</td><td>{{.UserPhone}}</td></tr>{{end}}
    {{if .Company}}<tr><td class="label">Company</td><td>{{.Company}}</td></tr>{{end}}
    <tr><td class="label">Job</td><td>{{.JobID}}</td></tr>
</table>
{{if .DownloadURL}}<p><a href="{{.DownloadURL}}" class="btn">Download file</a></p>
<p style="font-size: 12px;">This link expires in 7 days.</p>{{end}}
<p><a href="{{.DashboardURL}}">Open the admin dashboard</a></p>
`

// JobCompletedTemplate tells the owner that their enriched file is ready.
const JobCompletedTemplate = `
<h2>Your enriched file is ready</h2>
<p>Hello {{.UserName}},</p>
<p>We finished enriching <strong>{{.Filename}}</strong>.</p>
<table class="facts">
    <tr><td class="label">Phone numbers found</td><td>{{.NumbersFound}}</td></tr>
    <tr><td class="label">Credits used</td><td>{{.CreditsUsed}}</td></tr>
</table>
<p style="text-align: center;"><a href="{{.DashboardURL}}" class="btn">Download from your dashboard</a></p>
`
