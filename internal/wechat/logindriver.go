package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/mprelay/internal/login"
	"github.com/hitoshi/mprelay/internal/model"
)

const (
	// qrLifetime はプラットフォームが発行するQRコードのおおよその有効期間。
	qrLifetime = 5 * time.Minute
	// askInterval はスキャン状態ポーリングの間隔。
	askInterval = 2 * time.Second
)

// scanloginqrcode action=ask のstatus値
const (
	askStatusWaiting   = 0
	askStatusConfirmed = 1
	askStatusCancelled = 2
	askStatusExpired   = 3
	askStatusScanned   = 4
)

// tokenPattern はログイン完了後のリダイレクトURLからトークンを取り出す。
var tokenPattern = regexp.MustCompile(`token=(\d+)`)

// LoginDriver はブラウザを使わないHTTPベースのQRコードログイン。
// startlogin → getqrcode → ask ポーリング → login の順で
// プラットフォームのログインフローをなぞる。
// loginパッケージのDriverインターフェースを実装する。
// 1インスタンスは1回のログイン試行にのみ使用する。
type LoginDriver struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string

	events chan login.Event
	cancel context.CancelFunc

	mu      sync.Mutex
	token   string
	account string
	started bool
}

// NewLoginDriver はLoginDriverの新しいインスタンスを生成する。
// CookieジャーでログインフローのCookieを追跡する。
func NewLoginDriver(userAgent string) (*LoginDriver, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &LoginDriver{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		userAgent: userAgent,
		events:    make(chan login.Event, 8),
	}, nil
}

// Start はログインフローを開始し、QRコード画像を返す。
// スキャン状態のポーリングはバックグラウンドで継続される。
func (d *LoginDriver) Start(ctx context.Context) (*login.Challenge, error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil, fmt.Errorf("driver already started")
	}
	d.started = true
	d.mu.Unlock()

	if err := d.startLogin(ctx); err != nil {
		return nil, fmt.Errorf("startlogin: %w", err)
	}

	png, err := d.fetchQRCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("getqrcode: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.poll(pollCtx)

	return &login.Challenge{
		QRCodePNG: png,
		ExpiresAt: time.Now().Add(qrLifetime),
	}, nil
}

// Events はログイン進行イベントのチャネルを返す。
func (d *LoginDriver) Events() <-chan login.Event {
	return d.events
}

// ExtractSession は確認完了後のCookieとトークンからセッションを構築する。
func (d *LoginDriver) ExtractSession(ctx context.Context) (*model.Session, error) {
	d.mu.Lock()
	token := d.token
	d.mu.Unlock()

	if token == "" {
		return nil, fmt.Errorf("login not completed")
	}

	base, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}

	var cookies []model.Cookie
	for _, c := range d.httpClient.Jar.Cookies(base) {
		cookies = append(cookies, model.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: base.Hostname(),
			Path:   "/",
		})
	}
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no session cookies present")
	}

	return &model.Session{
		Cookies:  cookies,
		Token:    token,
		IssuedAt: time.Now(),
	}, nil
}

// Close はポーリングを停止しリソースを解放する。
func (d *LoginDriver) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// startLogin はログインセッションを初期化する。
// ここで返されるCookieが以後のリクエストの前提になる。
func (d *LoginDriver) startLogin(ctx context.Context) error {
	form := url.Values{
		"userlang":     {"zh_CN"},
		"redirect_url": {""},
		"login_type":   {"3"},
		"sessionid":    {strconv.FormatInt(time.Now().UnixMilli(), 10)},
		"token":        {""},
		"lang":         {"zh_CN"},
		"f":            {"json"},
		"ajax":         {"1"},
	}
	body, err := d.postForm(ctx, "/cgi-bin/bizlogin?action=startlogin", form)
	if err != nil {
		return err
	}

	var resp struct {
		BaseResp baseResp `json:"base_resp"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse startlogin response: %w", err)
	}
	if resp.BaseResp.Ret != 0 {
		return fmt.Errorf("startlogin failed: %s (ret=%d)",
			resp.BaseResp.ErrMsg, resp.BaseResp.Ret)
	}
	return nil
}

// fetchQRCode はQRコードPNGを取得する。
func (d *LoginDriver) fetchQRCode(ctx context.Context) ([]byte, error) {
	u := fmt.Sprintf("%s/cgi-bin/scanloginqrcode?action=getqrcode&random=%d",
		d.baseURL, time.Now().UnixMilli())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// poll はスキャン状態をポーリングし、イベントへ変換する。
// 終端イベント送出後にチャネルをクローズして終了する。
func (d *LoginDriver) poll(ctx context.Context) {
	defer close(d.events)

	ticker := time.NewTicker(askInterval)
	defer ticker.Stop()

	scanned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := d.ask(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.emit(login.Event{Kind: login.EventError, Err: err})
			return
		}

		switch status {
		case askStatusWaiting:
			// スキャン待ち。次のtickへ。

		case askStatusScanned:
			if !scanned {
				scanned = true
				d.emit(login.Event{Kind: login.EventScanned})
			}

		case askStatusConfirmed:
			account, err := d.finishLogin(ctx)
			if err != nil {
				d.emit(login.Event{Kind: login.EventError, Err: err})
				return
			}
			d.emit(login.Event{Kind: login.EventConfirmed, Account: account})
			return

		case askStatusExpired:
			d.emit(login.Event{Kind: login.EventExpired})
			return

		case askStatusCancelled:
			d.emit(login.Event{Kind: login.EventError,
				Err: fmt.Errorf("login cancelled on device")})
			return

		default:
			d.emit(login.Event{Kind: login.EventError,
				Err: fmt.Errorf("unexpected ask status: %d", status)})
			return
		}
	}
}

// ask はQRコードのスキャン状態を問い合わせる。
func (d *LoginDriver) ask(ctx context.Context) (int, error) {
	u := d.baseURL + "/cgi-bin/scanloginqrcode?action=ask&token=&lang=zh_CN&f=json&ajax=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}

	var ask struct {
		BaseResp baseResp `json:"base_resp"`
		Status   int      `json:"status"`
	}
	if err := json.Unmarshal(body, &ask); err != nil {
		return 0, fmt.Errorf("parse ask response: %w", err)
	}
	if ask.BaseResp.Ret != 0 {
		return 0, fmt.Errorf("ask failed: %s (ret=%d)",
			ask.BaseResp.ErrMsg, ask.BaseResp.Ret)
	}
	return ask.Status, nil
}

// finishLogin は確認完了後のログインを完了し、アカウント識別子を返す。
// レスポンスのredirect_urlからトークンを取り出す。
func (d *LoginDriver) finishLogin(ctx context.Context) (string, error) {
	form := url.Values{
		"userlang": {"zh_CN"},
		"token":    {""},
		"lang":     {"zh_CN"},
		"f":        {"json"},
		"ajax":     {"1"},
	}
	body, err := d.postForm(ctx, "/cgi-bin/bizlogin?action=login", form)
	if err != nil {
		return "", err
	}

	var resp struct {
		BaseResp    baseResp `json:"base_resp"`
		RedirectURL string   `json:"redirect_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse login response: %w", err)
	}
	if resp.BaseResp.Ret != 0 {
		return "", fmt.Errorf("login failed: %s (ret=%d)",
			resp.BaseResp.ErrMsg, resp.BaseResp.Ret)
	}

	m := tokenPattern.FindStringSubmatch(resp.RedirectURL)
	if m == nil {
		return "", fmt.Errorf("token not found in redirect URL")
	}

	d.mu.Lock()
	d.token = m[1]
	d.account = d.slaveUser()
	account := d.account
	d.mu.Unlock()

	return account, nil
}

// slaveUser はCookieからログイン中アカウントの識別子を取り出す。
// 見つからない場合は空文字列。
func (d *LoginDriver) slaveUser() string {
	base, err := url.Parse(d.baseURL)
	if err != nil {
		return ""
	}
	for _, c := range d.httpClient.Jar.Cookies(base) {
		if c.Name == "slave_user" {
			return c.Value
		}
	}
	return ""
}

// postForm はフォームPOSTを実行し、レスポンスボディを返す。
func (d *LoginDriver) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Referer", d.baseURL+"/")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// emit はイベントを送出する。
// チャネル容量は1フローで発生しうるイベント数より大きい。
func (d *LoginDriver) emit(ev login.Event) {
	d.events <- ev
}
